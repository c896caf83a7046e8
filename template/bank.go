package template

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tanghyd/spiir-search/errors"
	"github.com/tanghyd/spiir-search/pkg/worker"
)

// BankMeta carries provenance for a loaded bank.
type BankMeta struct {
	Name        string  `json:"name,omitempty"`
	SampleRate  float64 `json:"sample_rate"`
	GeneratedBy string  `json:"generated_by,omitempty"`
	GeneratedAt string  `json:"generated_at,omitempty"`
}

// Reject records one template that failed validation during load.
type Reject struct {
	TemplateID int
	Err        error
}

// Bank is the loaded, validated template set. Read-only after Load; the
// filter engine and pipelines share it without locking.
type Bank struct {
	Meta      BankMeta
	Templates []*Template // validated templates in document order
	Rejected  []Reject    // templates dropped at load (reduced coverage)

	byID       map[int]int // template id -> ordinal in Templates
	maxSupport int
}

// LoadOptions tunes the bank load.
type LoadOptions struct {
	// Workers bounds the parallel coefficient validation. Zero means
	// runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// Load reads, schema-validates and decodes a bank document, then validates
// every template's coefficients in parallel. Templates failing validation
// are recorded in Rejected and excluded; the load only fails outright when
// the document itself is malformed or no template survives.
func Load(path string, opts LoadOptions) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Bank", "Load", "bank file read")
	}
	return Parse(data, opts)
}

// Parse is Load for an in-memory document.
func Parse(data []byte, opts LoadOptions) (*Bank, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var doc struct {
		Bank      BankMeta    `json:"bank"`
		Templates []*Template `json:"templates"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Bank", "Parse", "bank document decoding")
	}

	bank := &Bank{
		Meta: doc.Bank,
		byID: make(map[int]int, len(doc.Templates)),
	}

	accepted, rejected := validateTemplates(doc.Templates, opts.Workers)

	for _, r := range rejected {
		logger.Warn("rejecting template with malformed coefficients",
			"template_id", r.TemplateID,
			"error", r.Err)
	}
	bank.Rejected = rejected

	// Document order is load order; duplicate ids are rejected so every
	// id resolves to exactly one ordinal.
	for _, t := range accepted {
		if _, dup := bank.byID[t.ID]; dup {
			bank.Rejected = append(bank.Rejected, Reject{
				TemplateID: t.ID,
				Err: errors.WrapInvalid(
					fmt.Errorf("%w: duplicate template id %d", errors.ErrMalformedCoefficients, t.ID),
					"Bank", "Parse", "duplicate id check"),
			})
			continue
		}
		bank.byID[t.ID] = len(bank.Templates)
		bank.Templates = append(bank.Templates, t)
		if t.Support > bank.maxSupport {
			bank.maxSupport = t.Support
		}
	}

	if len(bank.Templates) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no template survived validation", errors.ErrMalformedCoefficients),
			"Bank", "Parse", "bank coverage check")
	}

	logger.Info("template bank loaded",
		"bank", bank.Meta.Name,
		"sample_rate", bank.Meta.SampleRate,
		"templates", len(bank.Templates),
		"rejected", len(bank.Rejected))

	return bank, nil
}

// validateDocument checks the raw document against the embedded schema.
func validateDocument(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(bankSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return errors.WrapInvalid(err, "Bank", "validateDocument", "schema validation")
	}
	if !result.Valid() {
		detail := "document does not match bank schema"
		if errs := result.Errors(); len(errs) > 0 {
			detail = errs[0].String()
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrMalformedCoefficients, detail),
			"Bank", "validateDocument", "schema validation")
	}
	return nil
}

// validateTemplates runs Template.Validate over the set with a worker pool
// and partitions the results. Output order follows the input document, not
// worker completion.
func validateTemplates(templates []*Template, workers int) ([]*Template, []Reject) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	type outcome struct {
		ordinal int
		err     error
	}

	var mu sync.Mutex
	outcomes := make([]outcome, 0, len(templates))

	type job struct {
		ordinal  int
		template *Template
	}

	pool := worker.NewPool(workers, len(templates)+1, func(_ context.Context, j job) error {
		err := j.template.Validate()
		mu.Lock()
		outcomes = append(outcomes, outcome{ordinal: j.ordinal, err: err})
		mu.Unlock()
		return err
	})

	ctx := context.Background()
	// Start cannot fail on a fresh pool; Submit cannot overflow a queue
	// sized to the input.
	_ = pool.Start(ctx)
	for i, t := range templates {
		_ = pool.Submit(job{ordinal: i, template: t})
	}
	_ = pool.Stop(time.Minute)

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].ordinal < outcomes[b].ordinal })

	var accepted []*Template
	var rejected []Reject
	for _, o := range outcomes {
		if o.err != nil {
			rejected = append(rejected, Reject{TemplateID: templates[o.ordinal].ID, Err: o.err})
			continue
		}
		accepted = append(accepted, templates[o.ordinal])
	}
	return accepted, rejected
}

// Get returns the template with the given id.
func (b *Bank) Get(id int) (*Template, error) {
	ord, ok := b.byID[id]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: id %d", errors.ErrInvalidTemplate, id),
			"Bank", "Get", "template lookup")
	}
	return b.Templates[ord], nil
}

// Ordinal returns the dense index of a template id, for arena addressing.
func (b *Bank) Ordinal(id int) (int, bool) {
	ord, ok := b.byID[id]
	return ord, ok
}

// Len returns the number of validated templates.
func (b *Bank) Len() int {
	return len(b.Templates)
}

// MaxSupport returns the longest expected impulse-response support over
// the bank, which sizes the per-template SNR history rings.
func (b *Bank) MaxSupport() int {
	return b.maxSupport
}

// SampleRate returns the bank's design sample rate in Hz.
func (b *Bank) SampleRate() float64 {
	return b.Meta.SampleRate
}
