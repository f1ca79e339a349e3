package fsck

// dirFrame is one node of the explicit DFS stack phase 6 walks the
// directory tree with, grounded on cmd/fsck/main.go's linked `stack`/
// `ftop` type -- a hand-rolled stack instead of Go's call stack, so a
// pathological directory depth can't blow it.
type dirFrame struct {
	inode  uint32
	parent uint32
	next   *dirFrame
}

func push(top *dirFrame, inode, parent uint32) *dirFrame {
	return &dirFrame{inode: inode, parent: parent, next: top}
}

func pop(top *dirFrame) (uint32, uint32, *dirFrame) {
	return top.inode, top.parent, top.next
}
