package registry

import "testing"

func TestParseKeyDefaultValue(t *testing.T) {
	key, err := ParseKey(`HKCR\CLSID\{GUID}\InprocServer32`)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if key.Hive != ClassesRoot {
		t.Fatalf("hive = %v, want ClassesRoot", key.Hive)
	}
	want := []string{"CLSID", "{GUID}", "InprocServer32"}
	if len(key.Path) != len(want) {
		t.Fatalf("path = %v, want %v", key.Path, want)
	}
	for i := range want {
		if key.Path[i] != want[i] {
			t.Fatalf("path = %v, want %v", key.Path, want)
		}
	}
	if key.ValueName != nil {
		t.Fatalf("value name = %v, want nil", *key.ValueName)
	}
}

func TestParseKeyNamedValue(t *testing.T) {
	key, err := ParseKey(`HKCR\CLSID\{GUID}\InprocServer32@ThreadingModel`)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if key.ValueName == nil || *key.ValueName != "ThreadingModel" {
		t.Fatalf("value name = %v, want ThreadingModel", key.ValueName)
	}
}

func TestAppendDoesNotOverwriteSetDoes(t *testing.T) {
	r := WithDefaults()
	ref := `HKCR\CLSID\{GUID}\InprocServer32`

	if err := r.Set(ref, StringValue("a.dll")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	appended, err := r.Append(ref, StringValue("b.dll"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if appended {
		t.Fatalf("Append reported a write over an existing value")
	}

	if err := r.Set(ref, StringValue("c.dll")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := r.Get(ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v == nil || v.String != "c.dll" {
		t.Fatalf("value = %v, want c.dll", v)
	}
}

func TestLoadRegFileValues(t *testing.T) {
	reg := "Windows Registry Editor Version 5.00\r\n\r\n" +
		`[HKEY_CLASSES_ROOT\CLSID\{TEST}\InprocServer32]` + "\r\n" +
		`@="C:\\sample.dll"` + "\r\n" +
		`"ThreadingModel"="Apartment"` + "\r\n" +
		`"Flags"=dword:00000002` + "\r\n" +
		`"Binary"=hex:01,02,0a` + "\r\n" +
		`"Expand"=hex(2):43,00,3a,00,5c,00,46,00,6f,00,6f,00,00,00` + "\r\n" +
		`"Multi"=hex(7):41,00,00,00,42,00,00,00,00,00` + "\r\n"

	r := WithDefaults()
	if err := MergeRegString(r, reg, Overwrite); err != nil {
		t.Fatalf("MergeRegString failed: %v", err)
	}

	cases := []struct {
		ref  string
		want Value
	}{
		{`HKCR\CLSID\{TEST}\InprocServer32`, StringValue(`C:\sample.dll`)},
		{`HKCR\CLSID\{TEST}\InprocServer32@ThreadingModel`, StringValue("Apartment")},
		{`HKCR\CLSID\{TEST}\InprocServer32@Flags`, DwordValue(2)},
		{`HKCR\CLSID\{TEST}\InprocServer32@Binary`, BinaryValue([]byte{1, 2, 10})},
		{`HKCR\CLSID\{TEST}\InprocServer32@Expand`, StringValue(`C:\Foo`)},
		{`HKCR\CLSID\{TEST}\InprocServer32@Multi`, MultiStringValue([]string{"A", "B"})},
	}

	for _, tt := range cases {
		got, err := r.Get(tt.ref)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", tt.ref, err)
		}
		if got == nil {
			t.Fatalf("Get(%s) = nil, want %v", tt.ref, tt.want)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("Get(%s) = %+v, want %+v", tt.ref, got, tt.want)
		}
	}
}

func TestWOW6432NodeRedirection(t *testing.T) {
	r := WithDefaults()
	ref := `HKLM\SOFTWARE\TestApp@TestValue`
	if err := r.Set(ref, StringValue("redirected")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	direct, err := r.Get(`HKLM\SOFTWARE\WOW6432Node\TestApp@TestValue`)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if direct == nil || direct.String != "redirected" {
		t.Fatalf("WOW6432Node value = %v, want redirected", direct)
	}

	viaOriginal, err := r.Get(ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if viaOriginal == nil || viaOriginal.String != "redirected" {
		t.Fatalf("original-path read = %v, want fallback to redirected", viaOriginal)
	}

	systemRef := `HKLM\SYSTEM\CurrentControlSet\Services\Tcpip@Start`
	if err := r.Set(systemRef, DwordValue(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_, err = r.Get(`HKLM\SYSTEM\WOW6432Node\CurrentControlSet\Services\Tcpip@Start`)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}
