package main

import "testing"

func TestParseEquipment(t *testing.T) {
	e, err := parseEquipment("fridge-1:0:4.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b := e.Band()
	if e.ID != "fridge-1" || b == nil || b.Min.String() != "0" || b.Max.String() != "4.5" {
		t.Fatalf("got %+v band %+v", e, b)
	}

	e, err = parseEquipment("freezer-2::-18")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.MinCelsius.Valid || !e.MaxCelsius.Valid || e.Band() != nil {
		t.Fatalf("half band should leave Band nil: %+v", e)
	}

	for _, bad := range []string{"fridge-1", ":0:4", "fridge-1:x:4", "fridge-1:5:4", "a:1:2:3"} {
		if _, err := parseEquipment(bad); err == nil {
			t.Errorf("parseEquipment(%q) should fail", bad)
		}
	}
}
