package profile_test

import (
	"math"
	"testing"

	"github.com/MrWong99/sarvis/pkg/profile"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestParse_Layouts(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		json string
		ids  []string
		embs []int
	}{
		{"current user single", `{"uid":"u1","voice_vectors":[3,4]}`, []string{"u1"}, []int{1}},
		{"current user many", `{"login_id":"kim","uid":"u1","voice_vectors":[[1,0],[0,1],"x"]}`, []string{"kim"}, []int{2}},
		{"voice embeddings key", `{"uid":"u2","voice_embeddings":[[1,1]]}`, []string{"u2"}, []int{1}},
		{"no id", `{"voice_vectors":[1,2]}`, []string{"current_user"}, []int{1}},
		{"map", `{"b":[1,0],"a":[0,1],"bad":"x"}`, []string{"a", "b"}, []int{1, 1}},
		{"list", `[{"speaker_id":"s1","embedding":[1,2]},{"uid":"s2","embedding":[2,1]},{"embedding":[1]},7]`, []string{"s1", "s2"}, []int{1, 1}},
		{"empty vectors", `{"uid":"u","voice_vectors":[]}`, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := profile.Parse([]byte(tc.json))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(got) != len(tc.ids) {
				t.Fatalf("got %d profiles %+v, want %v", len(got), got, tc.ids)
			}
			for i, p := range got {
				if p.SpeakerID != tc.ids[i] || len(p.Embeddings) != tc.embs[i] {
					t.Errorf("profile %d = %s/%d, want %s/%d", i, p.SpeakerID, len(p.Embeddings), tc.ids[i], tc.embs[i])
				}
				for _, e := range p.Embeddings {
					if math.Abs(norm(e)-1) > 1e-6 {
						t.Errorf("embedding not normalised: %v", e)
					}
				}
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`not json`, `"string"`, `42`} {
		if _, err := profile.Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%s) should fail", in)
		}
	}
}

func TestNormalize_Zero(t *testing.T) {
	t.Parallel()
	got := profile.Normalize([]float32{0, 0})
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("got %v", got)
	}
}
