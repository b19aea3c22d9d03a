package naming

import "testing"

func TestParseBranch(t *testing.T) {
	cases := []struct {
		name   string
		branch *string
		want   BranchContext
	}{
		{"issue", strPtr("issue-42-bug"), BranchContext{Kind: KindIssue, Issue: 42}},
		{"wave dot issue", strPtr("wave-5c.1-login"), BranchContext{Kind: KindWave, Wave: "5c", HasIssue: true, Issue: 1}},
		{"wave dash issue", strPtr("wave-5c-1-login"), BranchContext{Kind: KindWave, Wave: "5c", HasIssue: true, Issue: 1}},
		{"wave only", strPtr("wave-3-cleanup"), BranchContext{Kind: KindWave, Wave: "3"}},
		{"plain branch", strPtr("main"), BranchContext{Kind: KindBranch, Name: "main"}},
		{"absent", nil, BranchContext{Kind: KindUnknown}},
		{"empty", strPtr(""), BranchContext{Kind: KindUnknown}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseBranch(tc.branch)
			if got != tc.want {
				t.Fatalf("ParseBranch(%v) = %+v, want %+v", derefOrNil(tc.branch), got, tc.want)
			}
		})
	}
}

func TestContextToToken(t *testing.T) {
	cases := []struct {
		ctx     BranchContext
		want    string
		wantErr bool
	}{
		{BranchContext{Kind: KindIssue, Issue: 42}, "issue:42", false},
		{BranchContext{Kind: KindWave, Wave: "5c", HasIssue: true, Issue: 1}, "wave:5c.1", false},
		{BranchContext{Kind: KindWave, Wave: "5c"}, "wave:5c", false},
		{BranchContext{Kind: KindBranch, Name: "main"}, "branch:main", false},
		{BranchContext{Kind: KindUnknown}, "", true},
	}

	for _, tc := range cases {
		got, err := ContextToToken(tc.ctx)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ContextToToken(%+v) expected error, got nil", tc.ctx)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ContextToToken(%+v) unexpected error: %v", tc.ctx, err)
		}
		if got != tc.want {
			t.Fatalf("ContextToToken(%+v) = %q, want %q", tc.ctx, got, tc.want)
		}
	}
}

func TestResolveToken(t *testing.T) {
	r := NewResolver("claude")

	key, canonical, err := r.ResolveToken("pytest", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "claude:locks:resource:pytest" || canonical != "resource:pytest" {
		t.Fatalf("got key=%q canonical=%q", key, canonical)
	}

	key, canonical, err = r.ResolveToken("issue:42", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "claude:locks:issue:42" || canonical != "issue:42" {
		t.Fatalf("got key=%q canonical=%q", key, canonical)
	}
}

func TestResolveTokenWorkAutoDetect(t *testing.T) {
	r := NewResolver("claude")

	branch := "wave-5c.1-login"
	key, canonical, err := r.ResolveToken("work", &branch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "claude:locks:wave:5c.1" || canonical != "wave:5c.1" {
		t.Fatalf("got key=%q canonical=%q", key, canonical)
	}

	branch = "issue-42-bug"
	key, canonical, err = r.ResolveToken("work", &branch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "claude:locks:issue:42" || canonical != "issue:42" {
		t.Fatalf("got key=%q canonical=%q", key, canonical)
	}
}

func TestResolveTokenWorkUnknownIsInvalid(t *testing.T) {
	r := NewResolver("claude")
	if _, _, err := r.ResolveToken("work", nil); err == nil {
		t.Fatal("expected error for unresolvable work token")
	}
}

func TestResolveTokenIdempotent(t *testing.T) {
	r := NewResolver("claude")
	for _, token := range []string{"pytest", "issue:42", "wave:5c", "branch:main"} {
		key1, canon1, err := r.ResolveToken(token, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		key2, canon2, err := r.ResolveToken(canon1, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key1 != key2 || canon1 != canon2 {
			t.Fatalf("resolve not idempotent for %q: (%q,%q) vs (%q,%q)", token, key1, canon1, key2, canon2)
		}
	}
}

func strPtr(s string) *string { return &s }

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
