package cellsheet

import "fmt"

// Display renders a value the way the grid shows it. Errors show only
// their kind; the detail belongs in the tooltip.
func Display(v Value) string {
	switch val := v.(type) {
	case nil, emptyValue:
		return ""
	case Scalar:
		return fmt.Sprintf("%v", val.V)
	case ErrorValue:
		return val.Kind
	case HelpText:
		return val.Query
	case SpillOutput:
		for _, cell := range val.Cells {
			if cell == Empty || cell == nil {
				continue
			}
			return Display(cell)
		}
		return ""
	case Range:
		return fmt.Sprintf("%v", val.Rows())
	case Opaque:
		return fmt.Sprintf("%v", val.V)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Tooltip renders the hover text for a value.
func Tooltip(v Value) string {
	switch val := v.(type) {
	case nil, emptyValue:
		return "Empty"
	case Scalar:
		return fmt.Sprintf("%T", val.V)
	case ErrorValue:
		return val.Detail
	case HelpText:
		return val.Body
	case SpillOutput:
		return fmt.Sprintf("%dx%d spill", val.Height, val.Width)
	case Range:
		return fmt.Sprintf("%dx%d range", val.Height(), val.Width)
	case Opaque:
		return fmt.Sprintf("%T (shared by reference)", val.V)
	default:
		return fmt.Sprintf("%T", v)
	}
}
