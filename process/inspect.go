package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gproc "github.com/shirou/gopsutil/v4/process"
)

// Node is one process in an inspected tree.
type Node struct {
	PID      int
	Name     string
	Cmdline  string
	Children []*Node
}

// Inspect reads pid and its descendants from the process table. Processes
// that exit during the walk are left out.
func Inspect(ctx context.Context, pid int) (*Node, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
	}
	p, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gproc.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
		}
		return nil, err
	}
	return inspect(ctx, p, map[int32]bool{}), nil
}

func inspect(ctx context.Context, p *gproc.Process, seen map[int32]bool) *Node {
	seen[p.Pid] = true
	node := &Node{PID: int(p.Pid)}
	node.Name, _ = p.NameWithContext(ctx)
	node.Cmdline, _ = p.CmdlineWithContext(ctx)

	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return node
	}
	for _, c := range children {
		if seen[c.Pid] {
			continue
		}
		node.Children = append(node.Children, inspect(ctx, c, seen))
	}
	return node
}

// Count returns the number of processes in the tree rooted at n.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// Write prints the tree with two-space indentation per level.
func (n *Node) Write(w io.Writer) error {
	return n.write(w, 0)
}

func (n *Node) write(w io.Writer, depth int) error {
	if n == nil {
		return nil
	}
	label := n.Cmdline
	if label == "" {
		label = n.Name
	}
	if _, err := fmt.Fprintf(w, "%s%d %s\n", strings.Repeat("  ", depth), n.PID, label); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.write(w, depth+1); err != nil {
			return err
		}
	}
	return nil
}
