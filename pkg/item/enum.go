package item

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

// enumerators parses this item's config.enumerators entry (§3, §4.G): a
// JSON object mapping each legal integer value to its display label, e.g.
// {"0": "Zero", "1": "One"}. JSON object keys are always strings, so the
// integer side is parsed from the key rather than expected as a native Go
// int key.
func (it *Item) enumerators() (map[int]string, error) {
	raw, ok := it.cfg["enumerators"]
	if !ok {
		return nil, fmt.Errorf("mktl: %s.%s has no enumerators configured", it.store, it.key)
	}
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mktl: %s.%s enumerators is not an object", it.store, it.key)
	}
	out := make(map[int]string, len(table))
	for k, v := range table {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("mktl: %s.%s enumerators key %q is not an integer: %w", it.store, it.key, k, err)
		}
		label, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("mktl: %s.%s enumerators value for %q is not a string", it.store, it.key, k)
		}
		out[n] = label
	}
	return out, nil
}

// Formatted returns the current value's enumerated label (§8 scenario 3),
// e.g. "Zero" for a value of 0 given enumerators {0:"Zero",1:"One"}.
func (it *Item) Formatted(ctx context.Context) (string, error) {
	table, err := it.enumerators()
	if err != nil {
		return "", err
	}
	payload, err := it.Get(ctx, false)
	if err != nil {
		return "", err
	}
	n, err := intValue(payload.Value)
	if err != nil {
		return "", err
	}
	label, ok := table[n]
	if !ok {
		return "", &mktlerr.KeyError{Key: strconv.Itoa(n)}
	}
	return label, nil
}

// SetFormatted resolves label against this item's enumerators
// case-insensitively (§8 scenario 3's "oNE" matching "One") and sets the
// item to the corresponding integer value. An unmatched label raises
// KeyError.
func (it *Item) SetFormatted(ctx context.Context, label string) error {
	table, err := it.enumerators()
	if err != nil {
		return err
	}
	lower := strings.ToLower(label)
	for n, candidate := range table {
		if strings.ToLower(candidate) == lower {
			return it.Set(ctx, &message.Payload{Value: float64(n)})
		}
	}
	return &mktlerr.KeyError{Key: label}
}

// intValue coerces a decoded JSON numeric value (float64, the common case
// for a wire-decoded payload) or an already-int Go value into an int, for
// enumerator lookups.
func intValue(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("mktl: enumerated value %v is not numeric", value)
	}
}
