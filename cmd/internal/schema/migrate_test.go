package schema

import (
	"strings"
	"testing"
)

func TestNames_Sorted(t *testing.T) {
	t.Parallel()

	names, err := Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_init.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("not sorted: %v", names)
		}
	}
}

func TestRender_SubstitutesSchema(t *testing.T) {
	t.Parallel()

	sql, err := Render("0001_init.sql", "rollcall_it")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(sql, placeholder) {
		t.Fatalf("placeholder left in rendered SQL")
	}
	for _, want := range []string{
		`"rollcall_it".sessions`,
		`"rollcall_it".device_bindings`,
		`"rollcall_it".attendance_records`,
		`"rollcall_it".override_log`,
		"uq_attendance_student_session",
		"ex_device_bindings_one_primary",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("rendered SQL missing %q", want)
		}
	}
}

func TestRender_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "  ", "a-b", `x"; DROP TABLE y; --`, "1abc"} {
		if _, err := Render("0001_init.sql", bad); err == nil {
			t.Fatalf("expected error for schema %q", bad)
		}
	}
}
