package cellsheet

import "fmt"

// applySpill expands a SpillOutput produced at k over its neighbors.
// Every covered neighbor other than the anchor gets a synthetic
// OFFSET(dr,dc) cell whose evaluation reads the matching slot of the
// producer. A neighbor holding any other text blocks the whole spill:
// the producer's value becomes a SpillConflictError and no neighbor is
// written.
func (wb *Workbook) applySpill(k Address, spill SpillOutput) Value {
	sheet := wb.sheets[k.Sheet]
	spill.TopLeftRow = k.Row
	spill.TopLeftCol = k.Col

	for dr := 0; dr < spill.Height; dr++ {
		for dc := 0; dc < spill.Width; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			n := Address{Row: k.Row + dr, Col: k.Col + dc, Sheet: k.Sheet}
			if err := wb.checkShape(n.Row, n.Col); err != nil {
				return errValueFrom(&SpillConflictError{Producer: k, Blocked: n})
			}
			text, occupied := sheet.text(cellKey{Row: n.Row, Col: n.Col})
			if !occupied || text == "" {
				continue
			}
			producer, spilled := wb.spills[n]
			if spilled && producer == k && text == spillSlotText(dr, dc) {
				continue
			}
			log.Debugf("spill from %s blocked at %s", k.Label(), n.Label())
			return errValueFrom(&SpillConflictError{Producer: k, Blocked: n})
		}
	}

	for dr := 0; dr < spill.Height; dr++ {
		for dc := 0; dc < spill.Width; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			n := Address{Row: k.Row + dr, Col: k.Col + dc, Sheet: k.Sheet}
			key := cellKey{Row: n.Row, Col: n.Col}
			synthetic := spillSlotText(dr, dc)
			if current, _ := sheet.text(key); current == synthetic {
				continue
			}
			sheet.setText(key, synthetic)
			wb.spills[n] = k
			wb.cache.Invalidate(n, wb.graph)
		}
	}
	return spill
}

func spillSlotText(dr, dc int) string {
	return fmt.Sprintf("OFFSET(%d,%d)", dr, dc)
}

// offset reads the (dr, dc) slot of the spill covering the current
// cell. When the producer no longer spills far enough, the slot
// self-erases and reads as Empty.
func (s *evalScope) offset(dr, dc int) any {
	producer, ok := s.wb.spills[s.cell]
	if !ok {
		s.fail(fmt.Errorf("OFFSET is only valid inside a spilled cell"))
	}
	v := s.resolve(producer)
	spill, isSpill := v.(SpillOutput)
	if !isSpill || dr >= spill.Height || dc >= spill.Width {
		s.sheet.setText(cellKey{Row: s.cell.Row, Col: s.cell.Col}, "")
		delete(s.wb.spills, s.cell)
		log.Debugf("spill slot %s self-erased", s.cell.Label())
		return Empty
	}
	clone, _ := CloneValue(spill.cell(dr, dc))
	return Unwrap(clone)
}
