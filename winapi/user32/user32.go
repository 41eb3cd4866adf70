// Package user32 backs the small USER32.dll surface this interpreter
// needs: MessageBoxA/W, dispatched through vm.Config.MessageBoxMode rather
// than drawing a real window (no windowing toolkit is wired into this
// module — see DESIGN.md). Grounded on the original interpreter's
// windows/user32/message_box.rs.
package user32

import (
	"fmt"
	"os"

	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi"
)

// New builds the USER32.dll host module.
func New(cfg *vm.Config) *winapi.Table {
	t := winapi.NewTable()
	t.Stdcall("MessageBoxA", 4, messageBoxA(cfg))
	t.Stdcall("MessageBoxW", 4, messageBoxW(cfg))
	return t
}

func messageBoxA(cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		textPtr := c.StackArg(stackPtr, 1)
		captionPtr := c.StackArg(stackPtr, 2)

		text := readCStringOrEmpty(c, textPtr)
		caption := readCStringOrEmpty(c, captionPtr)
		showMessageBox(cfg, caption, text)
		return 1, nil
	}
}

func messageBoxW(cfg *vm.Config) vm.StubFunc {
	return func(c *vm.CPU, stackPtr uint32) (uint32, error) {
		textPtr := c.StackArg(stackPtr, 1)
		captionPtr := c.StackArg(stackPtr, 2)

		text := readUTF16OrEmpty(c, textPtr)
		caption := readUTF16OrEmpty(c, captionPtr)
		showMessageBox(cfg, caption, text)
		return 1, nil
	}
}

func readCStringOrEmpty(c *vm.CPU, ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	s, err := c.Mem.ReadCString(ptr)
	if err != nil {
		return ""
	}
	return s
}

func readUTF16OrEmpty(c *vm.CPU, ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	s, err := c.Mem.ReadUTF16Z(ptr)
	if err != nil {
		return ""
	}
	return s
}

func showMessageBox(cfg *vm.Config, caption, text string) {
	mode := vm.MessageBoxDialog
	if cfg != nil {
		mode = cfg.MessageBoxMode
	}
	switch mode {
	case vm.MessageBoxStdout:
		if caption == "" {
			fmt.Fprintln(os.Stdout, text)
		} else {
			fmt.Fprintf(os.Stdout, "%s: %s\n", caption, text)
		}
	case vm.MessageBoxSilent:
	default:
		// No real dialog surface is wired into this headless interpreter;
		// a "dialog" request degrades to the same stdout line as Stdout
		// mode rather than silently dropping the message.
		if caption == "" {
			fmt.Fprintln(os.Stdout, text)
		} else {
			fmt.Fprintf(os.Stdout, "%s: %s\n", caption, text)
		}
	}
}
