package orgs

import (
	"sort"
	"strings"
)

const pathSep = "/"

// BuildPath returns the path of code placed under a parent with parentPath.
// An empty parentPath places code at the root.
func BuildPath(parentPath, code string) string {
	if parentPath == "" {
		return pathSep + code + pathSep
	}
	return parentPath + code + pathSep
}

// IsWithin reports whether path lies in the subtree rooted at ancestorPath,
// the root itself included.
func IsWithin(path, ancestorPath string) bool {
	return ancestorPath != "" && strings.HasPrefix(path, ancestorPath)
}

// PathCodes splits a path into its codes, root first
func PathCodes(path string) []string {
	trimmed := strings.Trim(path, pathSep)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, pathSep)
}

// rebase recomputes depth and path for a subtree breadth first. subtree holds the
// subtree root and all its descendants with their current parent links. The root
// is re-parented under newParent, or made a root when newParent is nil.
// Returned nodes keep breadth-first order.
func rebase(subtree []Organization, rootCode string, newParent *Organization) []Organization {
	children := make(map[string][]Organization, len(subtree))
	var root *Organization
	for i := range subtree {
		n := subtree[i]
		if n.Code == rootCode {
			root = &n
			continue
		}
		children[n.ParentCode] = append(children[n.ParentCode], n)
	}
	if root == nil {
		return nil
	}
	for code := range children {
		sort.Slice(children[code], func(i, j int) bool {
			return children[code][i].Code < children[code][j].Code
		})
	}

	if newParent == nil {
		root.ParentCode = ""
		root.Depth = 0
		root.Path = BuildPath("", root.Code)
	} else {
		root.ParentCode = newParent.Code
		root.Depth = newParent.Depth + 1
		root.Path = BuildPath(newParent.Path, root.Code)
	}

	out := make([]Organization, 0, len(subtree))
	queue := []Organization{*root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		out = append(out, parent)

		for _, child := range children[parent.Code] {
			child.Depth = parent.Depth + 1
			child.Path = BuildPath(parent.Path, child.Code)
			queue = append(queue, child)
		}
	}
	return out
}

// buildTree links nodes, ordered by (depth, code), into a forest. Nodes whose
// parent is not in the set become roots of the forest.
func buildTree(nodes []Organization) []*TreeNode {
	index := make(map[string]*TreeNode, len(nodes))
	var roots []*TreeNode
	for _, n := range nodes {
		node := &TreeNode{Organization: n}
		index[n.Code] = node
		if parent, ok := index[n.ParentCode]; ok && n.ParentCode != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// verify checks every node against its parent. nodes must be ordered by depth
// so that parents are seen before their children.
func verify(nodes []Organization) []Violation {
	byCode := make(map[string]Organization, len(nodes))
	for _, n := range nodes {
		byCode[n.Code] = n
	}

	var violations []Violation
	for _, n := range nodes {
		wantDepth, wantPath := 0, BuildPath("", n.Code)
		if n.ParentCode != "" {
			parent, ok := byCode[n.ParentCode]
			if !ok {
				violations = append(violations, Violation{
					Code: n.Code, ParentCode: n.ParentCode,
					Depth: n.Depth, Path: n.Path,
					Reason: "parent missing",
				})
				continue
			}
			wantDepth, wantPath = parent.Depth+1, BuildPath(parent.Path, n.Code)
		}

		if n.Depth != wantDepth || n.Path != wantPath {
			violations = append(violations, Violation{
				Code: n.Code, ParentCode: n.ParentCode,
				Depth: n.Depth, ExpectedDepth: wantDepth,
				Path: n.Path, ExpectedPath: wantPath,
				Reason: "depth or path mismatch",
			})
		}
	}
	return violations
}
