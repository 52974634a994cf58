package imap

import (
	"testing"
)

func TestFolderInfoSelectable(t *testing.T) {
	selectable := FolderInfo{Name: "INBOX", Delimiter: "/"}
	if !selectable.Selectable() {
		t.Fatal("plain mailbox reported unselectable")
	}

	container := FolderInfo{Name: "[Gmail]", Delimiter: "/", Attributes: []string{"\\HasChildren", "\\noselect"}}
	if container.Selectable() {
		t.Fatal("\\Noselect mailbox reported selectable")
	}
}

func TestFolderInfoSpecialUse(t *testing.T) {
	cases := []struct {
		attrs []string
		want  string
	}{
		{nil, ""},
		{[]string{"\\HasNoChildren"}, ""},
		{[]string{"\\HasNoChildren", AttrSent}, AttrSent},
		{[]string{"\\trash"}, "\\trash"},
		{[]string{AttrNoselect, AttrAll}, ""},
	}
	for _, tc := range cases {
		got := FolderInfo{Name: "x", Attributes: tc.attrs}.SpecialUse()
		if got != tc.want {
			t.Errorf("SpecialUse(%v) = %q, want %q", tc.attrs, got, tc.want)
		}
	}
}

func TestMessageMetaHasFlag(t *testing.T) {
	meta := MessageMeta{Flags: []string{"\\seen", FlagFlagged}}
	if !meta.HasFlag(FlagSeen) {
		t.Fatal("case-insensitive flag match failed")
	}
	if !meta.HasFlag(FlagFlagged) {
		t.Fatal("exact flag match failed")
	}
	if meta.HasFlag(FlagDeleted) {
		t.Fatal("absent flag reported present")
	}
}

func TestXOAuth2InitialResponse(t *testing.T) {
	client := NewXOAuth2Client("user@example.com", "ya29.token")
	mech, ir, err := client.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if mech != "XOAUTH2" {
		t.Fatalf("unexpected mechanism %q", mech)
	}
	want := "user=user@example.com\x01auth=Bearer ya29.token\x01\x01"
	if string(ir) != want {
		t.Fatalf("initial response %q, want %q", ir, want)
	}

	resp, err := client.Next([]byte("{\"status\":\"400\"}"))
	if err != nil || resp != nil {
		t.Fatalf("Next should yield nothing, got %v %v", resp, err)
	}
}
