package aggregate

import "fmt"

type errCountMismatch struct {
	got, want int
}

func (e errCountMismatch) Error() string {
	return fmt.Sprintf("counted %d records, snapshot holds %d", e.got, e.want)
}
