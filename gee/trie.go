package gee

import (
	"fmt"
	"strings"
)

// node 前缀树节点。part 以 : 或 * 开头时为通配节点。
type node struct {
	pattern  string // 只有路由终点才非空，例如 /api/v1/links/:code
	part     string
	children []*node
	isWild   bool
}

func (n *node) matchChild(part string) *node {
	for _, child := range n.children {
		if child.part == part {
			return child
		}
	}
	return nil
}

// matchChildren 静态子节点排在通配子节点前面，/healthz 优先于 /:code
func (n *node) matchChildren(part string) []*node {
	nodes := make([]*node, 0, len(n.children))
	for _, child := range n.children {
		if child.part == part {
			nodes = append(nodes, child)
		}
	}
	for _, child := range n.children {
		if child.isWild {
			nodes = append(nodes, child)
		}
	}
	return nodes
}

func (n *node) insert(pattern string, parts []string, height int) {
	if len(parts) == height {
		n.pattern = pattern
		return
	}
	part := parts[height]
	child := n.matchChild(part)
	if child == nil {
		wild := part[0] == ':' || part[0] == '*'
		// 同一层只允许一个同名通配，/:code 与 /:id 并存时参数名无法确定
		if wild {
			for _, c := range n.children {
				if c.isWild {
					panic(fmt.Sprintf("gee: wildcard %q in %q conflicts with existing %q", part, pattern, c.part))
				}
			}
		}
		child = &node{part: part, isWild: wild}
		n.children = append(n.children, child)
	}
	child.insert(pattern, parts, height+1)
}

// search 深度优先，静态分支失败时回溯到通配分支
func (n *node) search(parts []string, height int) *node {
	if len(parts) == height || strings.HasPrefix(n.part, "*") {
		if n.pattern == "" {
			return nil
		}
		return n
	}

	for _, child := range n.matchChildren(parts[height]) {
		if result := child.search(parts, height+1); result != nil {
			return result
		}
	}
	return nil
}
