package registry

import "testing"

func TestLoadYAMLBuildsRegistryTree(t *testing.T) {
	data := []byte(`
HKEY_LOCAL_MACHINE:
  Software:
    Widget:
      "@": default value
      Count: 7
      Name: widget
      List:
        - a
        - b
`)
	r, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}

	cases := []struct {
		ref  string
		want Value
	}{
		{`HKLM\Software\Widget`, StringValue("default value")},
		{`HKLM\Software\Widget@Count`, DwordValue(7)},
		{`HKLM\Software\Widget@Name`, StringValue("widget")},
		{`HKLM\Software\Widget@List`, MultiStringValue([]string{"a", "b"})},
	}
	for _, tt := range cases {
		got, err := r.Get(tt.ref)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.ref, err)
		}
		if got == nil || !got.Equal(tt.want) {
			t.Errorf("Get(%s) = %+v, want %+v", tt.ref, got, tt.want)
		}
	}
}

func TestMergeYAMLUnknownHiveErrors(t *testing.T) {
	r := WithDefaults()
	err := MergeYAML(r, []byte("HKEY_NOT_A_HIVE:\n  Foo: 1\n"), Overwrite)
	if err == nil {
		t.Fatal("MergeYAML with an unknown hive succeeded, want an error")
	}
}

func TestMergeYAMLOverwriteReplacesExistingValue(t *testing.T) {
	r := WithDefaults()
	if err := r.Set(`HKLM\Software\Widget@Name`, StringValue("old")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data := []byte("HKEY_LOCAL_MACHINE:\n  Software:\n    Widget:\n      Name: new\n")
	if err := MergeYAML(r, data, Overwrite); err != nil {
		t.Fatalf("MergeYAML: %v", err)
	}
	got, err := r.Get(`HKLM\Software\Widget@Name`)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.String != "new" {
		t.Errorf("value after Overwrite merge = %v, want new", got)
	}
}

func TestMergeYAMLKeepExistingPreservesValue(t *testing.T) {
	r := WithDefaults()
	if err := r.Set(`HKLM\Software\Widget@Name`, StringValue("old")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data := []byte("HKEY_LOCAL_MACHINE:\n  Software:\n    Widget:\n      Name: new\n")
	if err := MergeYAML(r, data, KeepExisting); err != nil {
		t.Fatalf("MergeYAML: %v", err)
	}
	got, err := r.Get(`HKLM\Software\Widget@Name`)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.String != "old" {
		t.Errorf("value after KeepExisting merge = %v, want old (preserved)", got)
	}
}

func TestIsValueKeyNameRecognizesDefaultSpellings(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"@", true},
		{"(Default)", true},
		{"(default)", true},
		{"(DEFAULT)", true},
		{"Name", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValueKeyName(tt.key); got != tt.want {
			t.Errorf("isValueKeyName(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestNestedSubkeysWithoutValuesCreateNoPhantomValues(t *testing.T) {
	data := []byte(`
HKEY_CURRENT_USER:
  Software:
    Vendor:
      App:
        Settings:
          Level: 3
`)
	r, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	got, err := r.Get(`HKCU\Software\Vendor\App\Settings@Level`)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || !got.Equal(DwordValue(3)) {
		t.Errorf("Get(Level) = %+v, want Dword(3)", got)
	}
}
