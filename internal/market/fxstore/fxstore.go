// Package fxstore implements the FX-rate store spec.md §5 describes: direct
// quotes keyed by (base, quote) pair, with any non-direct pair resolved by
// breadth-first search over the direct-quote graph and an optional
// mutex-guarded memoisation cache.
package fxstore

import (
	"fmt"
	"sync"
)

type pair struct {
	base  string
	quote string
}

// Store holds one reference date's direct FX quotes and triangulates any
// other pair on demand.
type Store struct {
	rates map[pair]float64

	cacheMu sync.Mutex
	cache   map[pair]float64
}

// New builds a Store from direct quotes, one rate per (base, quote): rate is
// the number of quote units per one base unit (1 base = rate quote).
func New(direct map[[2]string]float64) *Store {
	s := &Store{
		rates: make(map[pair]float64, len(direct)),
		cache: make(map[pair]float64),
	}
	for k, v := range direct {
		s.rates[pair{k[0], k[1]}] = v
	}
	return s
}

// Rate returns 1 base = Rate quote, trying the trivial case, the direct
// quote, the inverse quote, and finally a breadth-first search over the
// direct-quote graph, in that order (spec §5 "FX triangulation lookups").
func (s *Store) Rate(base, quote string) (float64, error) {
	if base == quote {
		return 1.0, nil
	}

	key := pair{base, quote}
	s.cacheMu.Lock()
	if v, ok := s.cache[key]; ok {
		s.cacheMu.Unlock()
		return v, nil
	}
	s.cacheMu.Unlock()

	if v, ok := s.rates[key]; ok {
		s.store(base, quote, v)
		return v, nil
	}
	if v, ok := s.rates[pair{quote, base}]; ok {
		inv := 1.0 / v
		s.store(base, quote, inv)
		return inv, nil
	}

	rate, err := s.triangulate(base, quote)
	if err != nil {
		return 0, err
	}
	s.store(base, quote, rate)
	return rate, nil
}

// triangulate performs a breadth-first search over the direct-quote graph,
// accumulating the product (or quotient) of rates along the path from base
// to quote. The graph is undirected: a direct quote base->terms also yields
// terms->base at the reciprocal rate.
func (s *Store) triangulate(base, quote string) (float64, error) {
	type frontier struct {
		ccy string
		acc float64
	}
	visited := map[string]struct{}{base: {}}
	q := []frontier{{base, 1.0}}

	for len(q) > 0 {
		cur := q[0]
		q = q[1:]

		for p, rate := range s.rates {
			if p.base == cur.ccy {
				if p.quote == quote {
					return cur.acc * rate, nil
				}
				if _, seen := visited[p.quote]; !seen {
					visited[p.quote] = struct{}{}
					q = append(q, frontier{p.quote, cur.acc * rate})
				}
			} else if p.quote == cur.ccy {
				if p.base == quote {
					return cur.acc / rate, nil
				}
				if _, seen := visited[p.base]; !seen {
					visited[p.base] = struct{}{}
					q = append(q, frontier{p.base, cur.acc / rate})
				}
			}
		}
	}
	return 0, fmt.Errorf("fxstore: no quote path from %s to %s", base, quote)
}

func (s *Store) store(base, quote string, rate float64) {
	s.cacheMu.Lock()
	s.cache[pair{base, quote}] = rate
	s.cache[pair{quote, base}] = 1.0 / rate
	s.cacheMu.Unlock()
}
