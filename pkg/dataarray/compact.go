package dataarray

// compactLocked finds segments whose live-byte ratio has fallen below
// SegmentCompactFactor, rewrites every bucket that still points into one of
// them onto the current tail segment, then reclaims the now-empty files.
//
// Callers hold d.mu for writing.
func (d *DataArray) compactLocked() error {
	candidates := d.segs.compactionCandidates()
	if len(candidates) == 0 {
		return nil
	}

	candidateSet := make(map[uint32]bool, len(candidates))
	for _, seq := range candidates {
		candidateSet[seq] = true
	}

	capacity := d.addr.Capacity()

	for i := uint64(0); i < capacity; i++ {
		locator, err := d.addr.Get(i)
		if err != nil {
			return err
		}

		if locator == 0 || !candidateSet[d.segs.segmentOf(locator)] {
			continue
		}

		payload, scn, err := d.segs.get(locator)
		if err != nil {
			return err
		}

		newLocator, err := d.segs.append(payload, scn)
		if err != nil {
			return err
		}

		if err := d.addr.Set(i, newLocator); err != nil {
			return err
		}
	}

	return d.segs.reclaim(candidates)
}
