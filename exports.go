// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

const (
	maxExportNameLength     = 0x200
	maxExportFunctionsCount = 0x800000
)

var exportDirSize = uint32(binary.Size(ImageExportDirectory{}))

var (
	// AnoExportDirectoryTooLarge is reported when the number of exported
	// functions is unreasonably large.
	AnoExportDirectoryTooLarge = "Export directory has too many functions"
)

// ImageExportDirectory represents the IMAGE_EXPORT_DIRECTORY structure which
// is the root of the exports data directory. It gives the image loader
// everything it needs to resolve a GetProcAddress call.
type ImageExportDirectory struct {
	// Reserved, must be 0.
	Characteristics uint32 `json:"characteristics"`

	// The time and date that the export data was created.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// The major version number. The major and minor version numbers can be
	// set by the user.
	MajorVersion uint16 `json:"major_version"`

	// The minor version number.
	MinorVersion uint16 `json:"minor_version"`

	// The address of the ASCII string that contains the name of the DLL.
	// This address is relative to the image base.
	Name uint32 `json:"name"`

	// The starting ordinal number for exports in this image. This field
	// specifies the starting ordinal number for the export address table.
	// It is usually set to 1.
	Base uint32 `json:"base"`

	// The number of entries in the export address table.
	NumberOfFunctions uint32 `json:"number_of_functions"`

	// The number of entries in the name pointer table. This is also the
	// number of entries in the ordinal table.
	NumberOfNames uint32 `json:"number_of_names"`

	// The address of the export address table, relative to the image base.
	AddressOfFunctions uint32 `json:"address_of_functions"`

	// The address of the export name pointer table, relative to the image
	// base. The table size is given by the NumberOfNames field.
	AddressOfNames uint32 `json:"address_of_names"`

	// The address of the ordinal table, relative to the image base.
	AddressOfNameOrdinals uint32 `json:"address_of_name_ordinals"`
}

// ExportFunction represents an exported function, resolved either to a
// function RVA inside the image or to a forwarder string naming another
// module's export.
type ExportFunction struct {
	// The ordinal value of the export, computed as Base + index into the
	// export address table.
	Ordinal uint32 `json:"ordinal"`

	// The RVA of the exported symbol, relative to the image base. When this
	// RVA falls inside the export directory itself, the entry is a
	// forwarder and Forwarder/ForwarderRVA are populated instead.
	FunctionRVA uint32 `json:"function_rva"`

	// The RVA of the export's name, when the export is exposed by name.
	NameRVA uint32 `json:"name_rva"`

	// The export's name, when exposed by name; empty for pure ordinal
	// exports.
	Name string `json:"name"`

	// When the export is a forwarder, the "DLL.SymbolName" string the
	// import should be resolved against instead.
	Forwarder string `json:"forwarder"`

	// The RVA of the forwarder string, equal to FunctionRVA for forwarders.
	ForwarderRVA uint32 `json:"forwarder_rva"`
}

// Export represents the Export Table along with its parsed functions.
type Export struct {
	Struct    ImageExportDirectory `json:"struct"`
	Functions []ExportFunction     `json:"functions"`
}

// parseExportDirectory parses the export directory and builds the list of
// exported functions, resolving forwarders where applicable.
//
// A function whose RVA falls inside the export directory's own [rva, rva+size)
// range is a forwarder; the bytes at that RVA are an ASCII "DLL.Symbol"
// string rather than executable code.
func (pe *File) parseExportDirectory(rva, size uint32) error {

	exportDir := ImageExportDirectory{}
	offset := pe.GetOffsetFromRva(rva)
	err := pe.structUnpack(&exportDir, offset, exportDirSize)
	if err != nil {
		return err
	}

	if exportDir.NumberOfFunctions > maxExportFunctionsCount ||
		exportDir.NumberOfNames > maxExportFunctionsCount {
		pe.Anomalies = append(pe.Anomalies, AnoExportDirectoryTooLarge)
		pe.Export = Export{Struct: exportDir}
		return nil
	}

	// Build name RVA -> ordinal index map from the name pointer table and
	// the parallel ordinal table.
	namesByOrdinalIndex := make(map[uint32]uint32, exportDir.NumberOfNames)
	for i := uint32(0); i < exportDir.NumberOfNames; i++ {
		nameRVAOffset := pe.GetOffsetFromRva(exportDir.AddressOfNames + i*4)
		nameRVA, err := pe.ReadUint32(nameRVAOffset)
		if err != nil {
			break
		}
		ordIndexOffset := pe.GetOffsetFromRva(exportDir.AddressOfNameOrdinals + i*2)
		ordIndex, err := pe.ReadUint16(ordIndexOffset)
		if err != nil {
			break
		}
		namesByOrdinalIndex[uint32(ordIndex)] = nameRVA
	}

	functions := make([]ExportFunction, 0, exportDir.NumberOfFunctions)
	exportDirStart := rva
	exportDirEnd := rva + size

	for i := uint32(0); i < exportDir.NumberOfFunctions; i++ {
		funcRVAOffset := pe.GetOffsetFromRva(exportDir.AddressOfFunctions + i*4)
		functionRVA, err := pe.ReadUint32(funcRVAOffset)
		if err != nil {
			break
		}
		if functionRVA == 0 {
			continue
		}

		function := ExportFunction{
			Ordinal:     exportDir.Base + i,
			FunctionRVA: functionRVA,
		}

		if nameRVA, ok := namesByOrdinalIndex[i]; ok {
			function.NameRVA = nameRVA
			function.Name = pe.getStringAtRVA(nameRVA, maxExportNameLength)
		}

		// A forwarder RVA lies inside the export directory's own span; the
		// bytes there are an ASCII "ModuleName.ExportName" string.
		if functionRVA >= exportDirStart && functionRVA < exportDirEnd {
			function.ForwarderRVA = functionRVA
			function.Forwarder = pe.getStringAtRVA(functionRVA, maxExportNameLength)
		}

		functions = append(functions, function)
	}

	pe.Export = Export{
		Struct:    exportDir,
		Functions: functions,
	}
	pe.HasExport = true
	return nil
}

// GetExportFunctionByRVA returns the name of the exported function whose RVA
// matches rva, or an empty string when none is found.
func (pe *File) GetExportFunctionByRVA(rva uint32) string {
	for _, export := range pe.Export.Functions {
		if export.FunctionRVA == rva {
			return export.Name
		}
	}
	return ""
}
