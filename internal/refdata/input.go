package refdata

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/model"
)

// LoadProperties reads a JSON array of properties.
func LoadProperties(ctx context.Context, path string) ([]model.Property, error) {
	return loadArray[model.Property](ctx, path)
}

// LoadBuyers reads a JSON array of buyer records. Records that fail to
// decode or lack required fields load flagged with a Defect; the
// qualification engine skips them.
func LoadBuyers(ctx context.Context, path string) ([]model.Buyer, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	out, err := DecodeBuyers(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: load %s", path)
	}
	return out, nil
}

// DecodeBuyers decodes a JSON array of buyers. Only a broken array aborts;
// an element that fails to decode becomes a record carrying
// model.DefectUndecodable and whatever id and email could be read.
func DecodeBuyers(ctx context.Context, r io.Reader) ([]model.Buyer, error) {
	elems, err := DecodeArray[json.RawMessage](ctx, r)
	if err != nil {
		return nil, err
	}

	out := make([]model.Buyer, 0, len(elems))
	for i, raw := range elems {
		var b model.Buyer
		if err := json.Unmarshal(raw, &b); err != nil {
			b = salvageBuyer(raw)
			zap.L().Warn("refdata: buyer record undecodable",
				zap.Int("index", i),
				zap.String("buyer_id", b.ID),
				zap.Error(err),
			)
		}
		out = append(out, b)
	}
	return out, nil
}

// salvageBuyer keeps the identifying fields of a record that failed to decode.
func salvageBuyer(raw json.RawMessage) model.Buyer {
	b := model.Buyer{Defect: model.DefectUndecodable}
	var fields map[string]any
	if json.Unmarshal(raw, &fields) != nil {
		return b
	}
	if id, ok := fields["id"].(string); ok {
		b.ID = id
	}
	if email, ok := fields["email"].(string); ok {
		b.Email = email
	}
	return b
}

// DecodeArray decodes a JSON array element by element.
func DecodeArray[T any](ctx context.Context, r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("refdata: expected '[', got %v", tok)
	}

	var out []T
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "refdata: decode cancelled")
		}
		var item T
		if err := dec.Decode(&item); err != nil {
			return nil, eris.Wrapf(err, "refdata: decode element %d", len(out))
		}
		out = append(out, item)
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "refdata: read closing token")
	}
	return out, nil
}

func loadArray[T any](ctx context.Context, path string) ([]T, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	out, err := DecodeArray[T](ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: load %s", path)
	}
	return out, nil
}
