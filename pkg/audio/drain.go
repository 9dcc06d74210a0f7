package audio

// Discard empties whatever is currently buffered in ch without blocking and
// returns how many values were dropped. It stops early if ch is closed.
func Discard[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
