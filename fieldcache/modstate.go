package fieldcache

// ModState records whether a cell changed since its state was last cleared.
type ModState uint8

const (
	// NotModified means the value is unchanged since the last clear.
	NotModified ModState = iota
	// Modified means the value changed since the last clear.
	Modified
	// Touched means the cell was written with its existing value or explicitly touched.
	Touched
)

func (s ModState) String() string {
	switch s {
	case NotModified:
		return "NOT_MODIFIED"
	case Modified:
		return "MODIFIED"
	case Touched:
		return "TOUCHED"
	default:
		return "UNKNOWN"
	}
}
