package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tanghyd/spiir-search/template"
)

// ValidTemplate builds a template with two stable filters that passes
// coefficient validation. Support is short so SNR history rings in tests
// stay small.
func ValidTemplate(id int) *template.Template {
	return &template.Template{
		ID:      id,
		Mass1:   1.6,
		Mass2:   1.4,
		Support: 64,
		Filters: []template.Filter{
			{Pole: template.Complex(complex(0.95, 0.05)), Gain: template.Complex(complex(1e-3, 0)), Weight: template.Complex(complex(0.7, -0.1))},
			{Pole: template.Complex(complex(0.90, -0.20)), Gain: template.Complex(complex(2e-3, 1e-4)), Weight: template.Complex(complex(0.3, 0.2))},
		},
	}
}

// PassthroughTemplate builds a one-filter template with a zero pole and
// unit gain and weight, so the summed SNR at each sample equals the
// sample value. Trigger behavior becomes hand-checkable.
func PassthroughTemplate(id int) *template.Template {
	return &template.Template{
		ID:      id,
		Mass1:   1.6,
		Mass2:   1.4,
		Support: 4,
		Filters: []template.Filter{
			{Pole: template.Complex(complex(0, 0)), Gain: template.Complex(complex(1, 0)), Weight: template.Complex(complex(1, 0))},
		},
	}
}

// BankDocument marshals templates into a bank document at the fixture
// sample rate.
func BankDocument(tb testing.TB, templates ...*template.Template) []byte {
	tb.Helper()
	doc := struct {
		Bank      template.BankMeta    `json:"bank"`
		Templates []*template.Template `json:"templates"`
	}{
		Bank:      template.BankMeta{Name: "fixture-bank", SampleRate: SampleRate},
		Templates: templates,
	}
	data, err := json.Marshal(doc)
	require.NoError(tb, err)
	return data
}

// ParseBank builds a bank through template.Parse so ordinals and supports
// are set the same way a production load sets them.
func ParseBank(tb testing.TB, templates ...*template.Template) *template.Bank {
	tb.Helper()
	bank, err := template.Parse(BankDocument(tb, templates...), template.LoadOptions{})
	require.NoError(tb, err)
	return bank
}

// WriteBank writes a bank document under the test's temp dir and returns
// the path, for components that load a bank from disk.
func WriteBank(tb testing.TB, templates ...*template.Template) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "bank.json")
	require.NoError(tb, os.WriteFile(path, BankDocument(tb, templates...), 0o644))
	return path
}
