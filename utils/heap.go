package utils

import "golang.org/x/exp/constraints"

// Heap is a min-heap; the zero value is empty and ready to use.
type Heap[T constraints.Ordered] struct {
	buf []T
}

func (h *Heap[T]) Len() int {
	return len(h.buf)
}

func (h *Heap[T]) Push(x T) {
	h.buf = append(h.buf, x)
	for j := len(h.buf) - 1; j > 0; {
		i := (j - 1) / 2
		if !(h.buf[j] < h.buf[i]) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		j = i
	}
}

// Peek returns the minimum without removing it; ok is false when empty.
func (h *Heap[T]) Peek() (min T, ok bool) {
	if len(h.buf) == 0 {
		return min, false
	}
	return h.buf[0], true
}

// Pop removes and returns the minimum. The heap must not be empty.
func (h *Heap[T]) Pop() (min T) {
	min = h.buf[0]
	n := len(h.buf) - 1
	h.buf[0] = h.buf[n]
	h.buf = h.buf[:n]
	for i := 0; ; {
		j := 2*i + 1
		if j >= n {
			break
		}
		if j+1 < n && h.buf[j+1] < h.buf[j] {
			j++
		}
		if !(h.buf[j] < h.buf[i]) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		i = j
	}
	return
}

func (h *Heap[T]) Clear() {
	h.buf = h.buf[:0]
}
