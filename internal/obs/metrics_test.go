package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/v1/portal/session":                    "/v1/portal/session",
		"/v1/admin/assistances":                 "/v1/admin/assistances",
		"/v1/admin/assistances/abc":             "/v1/admin/assistances/:id",
		"/v1/admin/assistances/abc/cancel":      "/v1/admin/assistances/:id/cancel",
		"/v1/admin/quotations/q1/approve":       "/v1/admin/quotations/:id/approve",
		"/v1/admin/suppliers/s1/codes":          "/v1/admin/suppliers/:id/codes",
		"/v1/admin/assistances/abc?notes=x":     "/v1/admin/assistances/:id",
		"/v1/portal/quotations":                 "/v1/portal/quotations",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
