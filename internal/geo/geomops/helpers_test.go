package geomops

import "github.com/paulmach/orb"

// one-shot wrappers over Shape for table-style assertions

func buffer(g orb.Geometry, d float64) (orb.Geometry, error) {
	s, err := NewShape(g)
	if err != nil {
		return nil, err
	}
	b, err := s.Buffer(d)
	if err != nil {
		return nil, err
	}
	return b.Geometry()
}

func simplify(g orb.Geometry, tolerance float64) (orb.Geometry, error) {
	s, err := NewShape(g)
	if err != nil {
		return nil, err
	}
	out, err := s.Simplify(tolerance)
	if err != nil {
		return nil, err
	}
	return out.Geometry()
}

func intersects(a, b orb.Geometry) (bool, error) {
	sa, err := NewShape(a)
	if err != nil {
		return false, err
	}
	sb, err := NewShape(b)
	if err != nil {
		return false, err
	}
	return sa.Intersects(sb)
}
