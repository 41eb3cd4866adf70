// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

var delayImportDescSize = uint32(binary.Size(ImageDelayImportDescriptor{}))

// ImageDelayImportDescriptor describes a delay-load import, used for DLLs
// that are only mapped in on first use of one of their exports rather than
// at process start-up.
type ImageDelayImportDescriptor struct {
	// Either 0 (old style delay-load, all fields below are VAs) or 1 (the
	// fields below are RVAs).
	Attributes uint32 `json:"attributes"`

	// RVA/VA to the name of the target library, an ASCII string.
	Name uint32 `json:"name"`

	// RVA/VA of the HMODULE caching the target DLL's module handle.
	ModuleHandleRVA uint32 `json:"module_handle_rva"`

	// RVA/VA of the delay-load import address table.
	ImportAddressTableRVA uint32 `json:"import_address_table_rva"`

	// RVA/VA of the delay-load import name table, with the layout of an INT.
	ImportNameTableRVA uint32 `json:"import_name_table_rva"`

	// RVA/VA of the bound delay-load import table, or 0 if unbound.
	BoundImportAddressTableRVA uint32 `json:"bound_import_address_table_rva"`

	// RVA/VA of the unload delay-load import table, or 0 if the DLL cannot
	// be unloaded.
	UnloadInformationTableRVA uint32 `json:"unload_information_table_rva"`

	// Timestamp of the target DLL, set once it is bound.
	TimeDateStamp uint32 `json:"time_date_stamp"`
}

// DelayImport represents one DLL pulled in via the delay import mechanism.
type DelayImport struct {
	Offset     uint32                     `json:"offset"`
	Name       string                     `json:"name"`
	Functions  []ImportFunction           `json:"functions"`
	Descriptor ImageDelayImportDescriptor `json:"descriptor"`
}

// parseDelayImportDirectory parses the delay import directory, an array of
// ImageDelayImportDescriptor entries terminated by a zeroed entry, mirroring
// the shape of the regular import directory but resolved lazily by the
// loader's __delayLoadHelper2 on first call.
func (pe *File) parseDelayImportDirectory(rva, size uint32) error {

	for {
		delayDesc := ImageDelayImportDescriptor{}
		fileOffset := pe.GetOffsetFromRva(rva)
		err := pe.structUnpack(&delayDesc, fileOffset, delayImportDescSize)
		if err != nil {
			return err
		}

		if delayDesc == (ImageDelayImportDescriptor{}) {
			break
		}

		rva += delayImportDescSize

		maxLen := uint32(len(pe.data)) - fileOffset
		if rva > delayDesc.ImportNameTableRVA || rva > delayDesc.ImportAddressTableRVA {
			if rva < delayDesc.ImportNameTableRVA {
				maxLen = rva - delayDesc.ImportAddressTableRVA
			} else if rva < delayDesc.ImportAddressTableRVA {
				maxLen = rva - delayDesc.ImportNameTableRVA
			} else {
				maxLen = Max(rva-delayDesc.ImportNameTableRVA,
					rva-delayDesc.ImportAddressTableRVA)
			}
		}

		var importedFunctions []ImportFunction
		if pe.Is64 {
			importedFunctions, err = pe.parseImports64(&delayDesc, maxLen)
		} else {
			importedFunctions, err = pe.parseImports32(&delayDesc, maxLen)
		}
		if err != nil {
			return err
		}

		dllName := pe.getStringAtRVA(delayDesc.Name, maxDllLength)
		if !IsValidDosFilename(dllName) {
			dllName = "*invalid*"
			continue
		}

		pe.DelayImports = append(pe.DelayImports, DelayImport{
			Offset:     fileOffset,
			Name:       string(dllName),
			Functions:  importedFunctions,
			Descriptor: delayDesc,
		})
	}

	return nil
}
