package coap

import "testing"

func TestCodeClassDetail(t *testing.T) {
	c := NewCode(2, 5)
	if c.Class() != 2 {
		t.Fatalf("class = %d, want 2", c.Class())
	}
	if c.Detail() != 5 {
		t.Fatalf("detail = %d, want 5", c.Detail())
	}
	if got, want := c.String(), "2.05"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestMessageGetOption(t *testing.T) {
	m := Message{}
	m.AddOption(OptionUriPath, []byte("a"))
	m.AddOption(OptionUriPath, []byte("b"))
	m.AddOption(OptionAccept, []byte{0})

	first, ok := m.GetOption(OptionUriPath)
	if !ok || string(first.Value) != "a" {
		t.Fatalf("GetOption returned %+v, %v", first, ok)
	}

	all := m.GetOptions(OptionUriPath)
	if len(all) != 2 || string(all[0].Value) != "a" || string(all[1].Value) != "b" {
		t.Fatalf("GetOptions = %+v", all)
	}

	if _, ok := m.GetOption(OptionETag); ok {
		t.Fatalf("GetOption found an option that was never added")
	}
}

func TestMessageIsConfirmableIsEmpty(t *testing.T) {
	con := Message{Type: TypeConfirmable, Code: CodeEmpty}
	if !con.IsConfirmable() {
		t.Fatalf("expected CON message to be confirmable")
	}
	if !con.IsEmpty() {
		t.Fatalf("expected code 0.00 message to be empty")
	}

	get := Message{Type: TypeNonConfirmable, Code: CodeGET}
	if get.IsConfirmable() {
		t.Fatalf("NON message reported confirmable")
	}
	if get.IsEmpty() {
		t.Fatalf("GET reported empty")
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		TypeConfirmable:    "CON",
		TypeNonConfirmable: "NON",
		TypeAcknowledgement: "ACK",
		TypeReset:          "RST",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
