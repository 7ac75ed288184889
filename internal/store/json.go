package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/itsmostafa/pageindex/internal/pageindex"
)

// encodeJSON writes leaves with "children": [] so the file matches the
// schema without nulls.
func encodeJSON(tree *pageindex.DocumentTree) ([]byte, error) {
	out := tree.Clone()
	if out.Roots == nil {
		out.Roots = []*pageindex.TreeNode{}
	}
	out.Walk(func(n *pageindex.TreeNode) {
		if n.Children == nil {
			n.Children = []*pageindex.TreeNode{}
		}
	})

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, pageindex.NewError(pageindex.KindPersistence, "failed to encode index", err)
	}
	return append(data, '\n'), nil
}

func decodeJSON(data []byte) (*pageindex.DocumentTree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var tree pageindex.DocumentTree
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after index")
	}
	if err := checkRequired(data); err != nil {
		return nil, err
	}
	return &tree, nil
}

// requiredNode holds the node fields that must be present in the file.
// Their zero values are legal, so absence cannot be seen on TreeNode.
type requiredNode struct {
	ID       *int           `json:"id"`
	Title    *string        `json:"title"`
	Children []requiredNode `json:"children"`
}

func checkRequired(data []byte) error {
	var doc struct {
		Roots []requiredNode `json:"roots"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return checkNodes(doc.Roots, "roots")
}

func checkNodes(nodes []requiredNode, path string) error {
	for i, n := range nodes {
		at := fmt.Sprintf("%s[%d]", path, i)
		if n.ID == nil {
			return fmt.Errorf("node %s is missing \"id\"", at)
		}
		if n.Title == nil {
			return fmt.Errorf("node %s (id %d) is missing \"title\"", at, *n.ID)
		}
		if err := checkNodes(n.Children, at+".children"); err != nil {
			return err
		}
	}
	return nil
}
