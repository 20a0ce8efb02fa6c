package extract

import "testing"

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		facts   int
		wantErr bool
	}{
		{
			name:  "clean json",
			raw:   `{"facts":[{"content":"a","confidence":0.9}],"entities":["x"]}`,
			facts: 1,
		},
		{
			name:  "fenced json",
			raw:   "```json\n{\"facts\":[{\"content\":\"a\",\"confidence\":0.9},{\"content\":\"b\",\"confidence\":0.5}]}\n```",
			facts: 2,
		},
		{
			name:  "prose around json",
			raw:   "Here is the extraction:\n{\"facts\":[]}\nHope that helps!",
			facts: 0,
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "no object", raw: "sorry, I cannot do that", wantErr: true},
		{name: "broken json", raw: `{"facts": [`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := parseExtraction(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseExtraction failed: %v", err)
			}
			if len(out.Facts) != tt.facts {
				t.Errorf("facts = %d, want %d", len(out.Facts), tt.facts)
			}
		})
	}
}

func TestParseExtractionRelation(t *testing.T) {
	out, err := parseExtraction(`{"facts":[{"content":"c","confidence":0.8,"relation":{"kind":"merge","target_id":"m-1"}}]}`)
	if err != nil {
		t.Fatalf("parseExtraction failed: %v", err)
	}
	r := out.Facts[0].Relation
	if r == nil || string(r.Kind) != "merge" || r.TargetID != "m-1" {
		t.Errorf("relation = %+v, want merge -> m-1", r)
	}
}
