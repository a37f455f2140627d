package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/areamatch/internal/model"
)

const srid = 4326

// encodePoint converts a coordinate to EWKB bytes with SRID 4326.
func encodePoint(c model.Coordinate) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{c.Lng, c.Lat}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return data, nil
}

// decodePoint parses EWKB point bytes. Nil input yields the zero coordinate.
func decodePoint(data []byte) (model.Coordinate, error) {
	if len(data) == 0 {
		return model.Coordinate{}, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return model.Coordinate{}, eris.Wrap(err, "store: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return model.Coordinate{}, eris.Errorf("store: expected point geometry, got %T", g)
	}
	return model.Coordinate{Lat: p.Y(), Lng: p.X()}, nil
}

// zoneReference returns the EWKB reference point for radius zones and nil otherwise.
func zoneReference(z model.Zone) ([]byte, error) {
	if z.Kind != model.ZoneKindRadius {
		return nil, nil
	}
	return encodePoint(z.Reference)
}
