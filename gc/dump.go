package gc

import (
	"fmt"
	"io"
)

// DumpHeap writes the state of each heap block to w, one character per
// block: '*' for a head, '-' for a tail, '#' for a marked head, '·' for a
// free block. Useful for debugging fragmentation and collection behavior.
func DumpHeap(w io.Writer) error {
	gcLock.Lock()
	defer gcLock.Unlock()
	for block := gcBlock(0); block < endBlock; block++ {
		var c byte
		switch block.state() {
		case blockStateHead:
			c = '*'
		case blockStateTail:
			c = '-'
		case blockStateMark:
			c = '#'
		default: // free
			c = 0
		}
		var err error
		if c == 0 {
			_, err = io.WriteString(w, "·")
		} else {
			_, err = w.Write([]byte{c})
		}
		if err != nil {
			return err
		}
		if block%64 == 63 || block+1 == endBlock {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// DumpFreeRanges writes the free range histogram to w: one line per unique
// range length, with the number of ranges of that length.
func DumpFreeRanges(w io.Writer) error {
	gcLock.Lock()
	defer gcLock.Unlock()
	for rangeWithLength := freeRanges; rangeWithLength != nil; rangeWithLength = rangeWithLength.nextLen {
		totalRanges := uintptr(1)
		for nextWithLen := rangeWithLength.nextWithLen; nextWithLen != nil; nextWithLen = nextWithLen.next {
			totalRanges++
		}
		if _, err := fmt.Fprintf(w, "- %d x %d\n", uint(rangeWithLength.len), uint(totalRanges)); err != nil {
			return err
		}
	}
	return nil
}
