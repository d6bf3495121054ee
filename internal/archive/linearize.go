package archive

import (
	"encoding/json"
	"sort"
	"strings"
)

// linearize collapses the message graph to one root-to-leaf path.
//
// When currentNode names a node in the mapping, the path is recovered by
// following parent pointers from that node up to the root. Otherwise the walk
// starts at the root and picks, at each node, the child whose message carries
// the latest create_time; ties break on the lexicographically smallest child
// id. System nodes with empty content are dropped; tool nodes are kept.
func linearize(mapping map[string]rawNode, currentNode string) []Message {
	path := pathFor(mapping, currentNode)

	msgs := make([]Message, 0, len(path))
	for _, nodeID := range path {
		node := mapping[nodeID]
		if node.Message == nil {
			continue
		}

		role := normalizeRole(node.Message.Author.Role)
		text := flattenContent(node.Message.Content)
		if role == RoleSystem && text == "" {
			continue
		}

		var created int64
		if node.Message.CreateTime != nil {
			created = int64(*node.Message.CreateTime)
		}

		parentID := ""
		if node.Parent != nil {
			parentID = *node.Parent
		}

		id := node.Message.ID
		if id == "" {
			id = node.ID
		}
		if id == "" {
			id = nodeID
		}

		msgs = append(msgs, Message{
			ID:          id,
			Role:        role,
			ContentType: node.Message.Content.ContentType,
			Text:        text,
			CreatedAt:   created,
			TurnIndex:   len(msgs),
			ParentID:    parentID,
			TextHash:    hashText(text),
		})
	}
	return msgs
}

// pathFor returns node ids in root-to-leaf order.
func pathFor(mapping map[string]rawNode, currentNode string) []string {
	if _, ok := mapping[currentNode]; ok && currentNode != "" {
		return pathToRoot(mapping, currentNode)
	}

	root := findRoot(mapping)
	if root == "" {
		return nil
	}

	var path []string
	seen := make(map[string]bool, len(mapping))
	for id := root; id != "" && !seen[id]; {
		seen[id] = true
		path = append(path, id)
		id = bestChild(mapping, mapping[id].Children)
	}
	return path
}

// pathToRoot follows parent pointers from leaf up, then reverses.
func pathToRoot(mapping map[string]rawNode, leaf string) []string {
	var path []string
	seen := make(map[string]bool, len(mapping))
	for id := leaf; id != "" && !seen[id]; {
		seen[id] = true
		path = append(path, id)
		node, ok := mapping[id]
		if !ok || node.Parent == nil {
			break
		}
		id = *node.Parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// findRoot picks the node without a parent. Multiple parentless nodes should
// not happen in well-formed exports; the smallest id wins for determinism.
func findRoot(mapping map[string]rawNode) string {
	var roots []string
	for id, node := range mapping {
		if node.Parent == nil || *node.Parent == "" {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	return roots[0]
}

// bestChild selects the child with the latest message timestamp, tie-breaking
// on the smallest id. Children absent from the mapping are ignored.
func bestChild(mapping map[string]rawNode, children []string) string {
	best := ""
	var bestTime float64 = -1
	for _, id := range children {
		node, ok := mapping[id]
		if !ok {
			continue
		}
		var t float64
		if node.Message != nil && node.Message.CreateTime != nil {
			t = *node.Message.CreateTime
		}
		switch {
		case t > bestTime:
			best, bestTime = id, t
		case t == bestTime && (best == "" || id < best):
			best = id
		}
	}
	return best
}

// flattenContent renders a node's content parts as one text block. Parts are
// joined with a blank line; non-text parts become a "[content_type: <kind>]"
// marker followed by any text payload. Trailing whitespace per line is trimmed.
func flattenContent(c rawContent) string {
	var parts []string

	for _, raw := range c.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				parts = append(parts, s)
			}
			continue
		}

		var obj struct {
			ContentType string `json:"content_type"`
			Text        string `json:"text"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.ContentType == "" {
			continue
		}
		p := "[content_type: " + obj.ContentType + "]"
		if obj.Text != "" {
			p += "\n" + obj.Text
		}
		parts = append(parts, p)
	}

	// Content without parts (code, tool output) carries a flat text field.
	if len(parts) == 0 && c.Text != "" {
		if c.ContentType != "" && c.ContentType != "text" {
			parts = append(parts, "[content_type: "+c.ContentType+"]\n"+c.Text)
		} else {
			parts = append(parts, c.Text)
		}
	}

	return trimTrailing(strings.Join(parts, "\n\n"))
}

// trimTrailing removes trailing whitespace from every line.
func trimTrailing(s string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
