package vm

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	pe "github.com/m3m0r7/pevm"
)

// LoadResult is what a successful Load returns: a ready-to-run CPU plus the
// image's entry point and the bridge that now owns every bound import
// thunk, so callers can register more host stubs against the same bridge
// before starting execution.
type LoadResult struct {
	CPU        *CPU
	EntryPoint uint32
	Missing    []string
}

// HostModule resolves an imported function name or ordinal to a host stub.
// The loader consults one per imported DLL name; an unresolved symbol is
// recorded as missing rather than aborting the load, matching the
// distilled contract's "best effort, report what's missing" stance.
type HostModule interface {
	Resolve(function ImportFunction) (StubFunc, CallConv, uint32, bool)
}

// Load copies a parsed PE32 image into a fresh guest address space,
// resolves imports against the supplied module table, and patches IAT
// entries with host-call sentinels. Unresolved imports are left pointing
// at a stub that returns a MissingImports error if ever actually called.
func Load(file *pe.File, modules map[string]HostModule, limit uint64, baseLogger log.Logger) (*LoadResult, error) {
	if baseLogger == nil {
		baseLogger = log.DefaultLogger
	}
	logger := log.NewHelper(baseLogger)

	opt32, ok := file.NtHeader.OptionalHeader.(pe.ImageOptionalHeader32)
	if !ok {
		return nil, &InvalidConfig{Reason: "only PE32 (32-bit) images are supported"}
	}

	base := opt32.ImageBase
	imageSize := opt32.SizeOfImage
	mem := NewMemory(base, imageSize)

	for _, sec := range file.Sections {
		data := sec.Data(0, sec.Header.SizeOfRawData, file)
		addr := base + sec.Header.VirtualAddress
		if len(data) > 0 {
			if err := mem.WriteBytes(addr, data); err != nil {
				logger.Errorf("vm: section %s did not fit in the mapped image: %v", sectionName(sec.Header), err)
				return nil, err
			}
		}
		logger.Debugf("vm: mapped section %s at %#x (%d bytes)", sectionName(sec.Header), addr, len(data))
	}

	logBuildProvenance(file, logger)

	bridge := NewBridge()
	var missing []string

	for _, imp := range file.Imports {
		mod, known := modules[normalizeDLLName(imp.Name)]
		for _, fn := range imp.Functions {
			var sentinel uint32
			if known {
				if stub, conv, argSize, ok := mod.Resolve(fn); ok {
					sentinel = bridge.Register(conv, argSize, stub)
				}
			}
			if sentinel == 0 {
				name := fmt.Sprintf("%s!%s", imp.Name, importSymbolName(fn))
				missing = append(missing, name)
				sentinel = bridge.RegisterMissing(name)
				logger.Warnf("vm: unresolved import %s", name)
			}
			if err := mem.WriteU32(base+fn.ThunkRVA, sentinel); err != nil {
				return nil, err
			}
		}
	}

	if err := applyRelocations(file, mem, base, opt32.ImageBase); err != nil {
		return nil, err
	}

	cpu := NewCPU(mem, bridge, limit, baseLogger)
	return &LoadResult{CPU: cpu, EntryPoint: base + opt32.AddressOfEntryPoint, Missing: missing}, nil
}

// applyRelocations walks every IMAGE_BASE_RELOCATION block and applies the
// HIGHLOW (32-bit) entries, skipping ABSOLUTE padding and rejecting other
// types as unsupported. Load maps every image at its preferred ImageBase, so
// the delta is zero there and memory is left unchanged.
func applyRelocations(file *pe.File, mem *Memory, loadBase, preferredBase uint32) error {
	delta := int64(loadBase) - int64(preferredBase)
	if delta == 0 {
		return nil
	}
	for _, block := range file.Relocations {
		pageRVA := block.Data.VirtualAddress
		for _, entry := range block.Entries {
			switch entry.Type {
			case pe.ImageRelBasedAbsolute:
				continue
			case pe.ImageRelBasedHighLow:
				addr := loadBase + pageRVA + uint32(entry.Offset)
				v, err := mem.ReadU32(addr)
				if err != nil {
					return err
				}
				if err := mem.WriteU32(addr, uint32(int64(v)+delta)); err != nil {
					return err
				}
			default:
				return &InvalidConfig{Reason: "unsupported relocation type for a 32-bit load"}
			}
		}
	}
	return nil
}

// logBuildProvenance surfaces the toolchain fingerprint a guest image
// carries (rich header hash, linker/compiler identities, declared file and
// product version) at Debug level, so a session trace can tell which
// compiler produced a binary without a separate dump pass.
func logBuildProvenance(file *pe.File, logger *log.Helper) {
	if file.HasRichHdr {
		tools := make([]string, 0, len(file.RichHeader.CompIDs))
		for _, c := range file.RichHeader.CompIDs {
			tools = append(tools, pe.ProdIDtoStr(c.ProdID))
		}
		logger.Debugf("vm: rich header hash=%s tools=%v", file.RichHeaderHash(), tools)
	}

	vers, err := file.ParseVersionResources()
	if err == nil && len(vers) > 0 {
		if v, ok := vers["FileVersion"]; ok {
			logger.Debugf("vm: version resource FileVersion=%q ProductName=%q", v, vers["ProductName"])
		}
	}

	if icons, err := file.ParseIcon(); err == nil {
		logger.Debugf("vm: image carries %d icon resource(s)", len(icons))
	}
}

func missingImportStub(name string) StubFunc {
	return func(c *CPU, stackPtr uint32) (uint32, error) {
		return 0, &MissingImports{Symbols: []string{name}}
	}
}

func importSymbolName(fn ImportFunction) string {
	if fn.ByOrdinal {
		return fmt.Sprintf("#%d", fn.Ordinal)
	}
	return fn.Name
}

func normalizeDLLName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			name = name[:i]
			break
		}
	}
	return toLowerASCII(name)
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func sectionName(h pe.ImageSectionHeader) string {
	n := h.Name[:]
	end := len(n)
	for i, b := range n {
		if b == 0 {
			end = i
			break
		}
	}
	return string(n[:end])
}

// ImportFunction re-exports the pe package's per-symbol import record so
// HostModule implementations don't need to import pe themselves just to
// spell the type.
type ImportFunction = pe.ImportFunction
