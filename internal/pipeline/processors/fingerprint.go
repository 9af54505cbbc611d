package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// FingerprintField is the key Fingerprint writes.
const FingerprintField = "fingerprint"

// Fingerprint adds a digest of the item's JSON encoding, computed before the
// fingerprint field itself is set.
type Fingerprint struct {
	hasher crawler.Hasher
}

// NewFingerprint builds the processor.
func NewFingerprint(hasher crawler.Hasher) (*Fingerprint, error) {
	if hasher == nil {
		return nil, errors.New("fingerprint processor requires a hasher")
	}
	return &Fingerprint{hasher: hasher}, nil
}

// Name implements crawler.Processor.
func (*Fingerprint) Name() string { return "fingerprint" }

// ProcessItem implements crawler.Processor.
func (f *Fingerprint) ProcessItem(_ context.Context, item *crawler.Item) (crawler.Step[*crawler.Item], error) {
	item.Delete(FingerprintField)
	raw, err := json.Marshal(item)
	if err != nil {
		return crawler.Step[*crawler.Item]{}, fmt.Errorf("encode item: %w", err)
	}
	digest, err := f.hasher.Hash(raw)
	if err != nil {
		return crawler.Step[*crawler.Item]{}, fmt.Errorf("hash item: %w", err)
	}
	item.Set(FingerprintField, digest)
	return crawler.Proceed(item), nil
}
