package store

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/itsmostafa/pageindex/internal/pageindex"
)

// Binary layout: magic, version byte, then a zstd frame holding the tree
// as protobuf wire-format messages.
//
//	Tree:     1 repeated Node roots, 2 Metadata
//	Metadata: 1 title, 2 page_count, 3 created_at
//	Node:     1 id, 2 title, 3 level, 4 start_index, 5 end_index,
//	          6 repeated Node children, 7 summary
//
// Integers are zigzag varints. Optional fields are omitted when nil.
const (
	binaryMagic   = "PIDX"
	binaryVersion = 1

	maxDecodeDepth = 256
	maxDecodedSize = 256 << 20
)

const (
	treeRoots    protowire.Number = 1
	treeMetadata protowire.Number = 2

	metaTitle     protowire.Number = 1
	metaPageCount protowire.Number = 2
	metaCreatedAt protowire.Number = 3

	nodeID       protowire.Number = 1
	nodeTitle    protowire.Number = 2
	nodeLevel    protowire.Number = 3
	nodeStart    protowire.Number = 4
	nodeEnd      protowire.Number = 5
	nodeChildren protowire.Number = 6
	nodeSummary  protowire.Number = 7
)

func encodeBinary(tree *pageindex.DocumentTree) ([]byte, error) {
	var payload []byte
	for _, root := range tree.Roots {
		payload = protowire.AppendTag(payload, treeRoots, protowire.BytesType)
		payload = protowire.AppendBytes(payload, appendNode(nil, root))
	}
	if tree.Metadata != nil {
		payload = protowire.AppendTag(payload, treeMetadata, protowire.BytesType)
		payload = protowire.AppendBytes(payload, appendMetadata(nil, tree.Metadata))
	}

	enc, err := zstd.NewWriter(nil, zstd.WithZeroFrames(true))
	if err != nil {
		return nil, pageindex.NewError(pageindex.KindPersistence, "failed to create compressor", err)
	}
	defer enc.Close()

	out := make([]byte, 0, len(binaryMagic)+1+len(payload)/2)
	out = append(out, binaryMagic...)
	out = append(out, binaryVersion)
	return enc.EncodeAll(payload, out), nil
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendNode(b []byte, n *pageindex.TreeNode) []byte {
	b = appendInt(b, nodeID, n.ID)
	b = appendString(b, nodeTitle, n.Title)
	b = appendInt(b, nodeLevel, n.Level)
	b = appendInt(b, nodeStart, n.StartIndex)
	b = appendInt(b, nodeEnd, n.EndIndex)
	for _, child := range n.Children {
		b = protowire.AppendTag(b, nodeChildren, protowire.BytesType)
		b = protowire.AppendBytes(b, appendNode(nil, child))
	}
	if n.Summary != nil {
		b = appendString(b, nodeSummary, *n.Summary)
	}
	return b
}

func appendMetadata(b []byte, m *pageindex.SourceMetadata) []byte {
	if m.Title != nil {
		b = appendString(b, metaTitle, *m.Title)
	}
	if m.PageCount != nil {
		b = appendInt(b, metaPageCount, *m.PageCount)
	}
	if m.CreatedAt != nil {
		b = appendString(b, metaCreatedAt, *m.CreatedAt)
	}
	return b
}

func decodeBinary(data []byte) (*pageindex.DocumentTree, error) {
	if len(data) < len(binaryMagic)+1 || !bytes.Equal(data[:len(binaryMagic)], []byte(binaryMagic)) {
		return nil, errors.New("not a binary index (bad magic)")
	}
	if v := data[len(binaryMagic)]; v != binaryVersion {
		return nil, fmt.Errorf("unsupported binary index version %d", v)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer dec.Close()

	payload, err := dec.DecodeAll(data[len(binaryMagic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}

	tree := &pageindex.DocumentTree{}
	err = consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == treeRoots && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			node, err := decodeNode(v, 1)
			if err != nil {
				return 0, err
			}
			tree.Roots = append(tree.Roots, node)
			return n, nil
		case num == treeMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			meta, err := decodeMetadata(v)
			if err != nil {
				return 0, err
			}
			tree.Metadata = meta
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func decodeNode(b []byte, depth int) (*pageindex.TreeNode, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("node nesting exceeds %d levels", maxDecodeDepth)
	}

	node := &pageindex.TreeNode{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == nodeID && typ == protowire.VarintType:
			return consumeInt(b, &node.ID)
		case num == nodeTitle && typ == protowire.BytesType:
			return consumeString(b, &node.Title)
		case num == nodeLevel && typ == protowire.VarintType:
			return consumeInt(b, &node.Level)
		case num == nodeStart && typ == protowire.VarintType:
			return consumeInt(b, &node.StartIndex)
		case num == nodeEnd && typ == protowire.VarintType:
			return consumeInt(b, &node.EndIndex)
		case num == nodeChildren && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			child, err := decodeNode(v, depth+1)
			if err != nil {
				return 0, err
			}
			node.Children = append(node.Children, child)
			return n, nil
		case num == nodeSummary && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			if err != nil {
				return 0, err
			}
			node.Summary = &s
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func decodeMetadata(b []byte) (*pageindex.SourceMetadata, error) {
	meta := &pageindex.SourceMetadata{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == metaTitle && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			meta.Title = &s
			return n, err
		case num == metaPageCount && typ == protowire.VarintType:
			var c int
			n, err := consumeInt(b, &c)
			meta.PageCount = &c
			return n, err
		case num == metaCreatedAt && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			meta.CreatedAt = &s
			return n, err
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// consumeFields walks the fields of one message. fn receives the bytes
// after the tag and returns how many it consumed.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func consumeInt(b []byte, dst *int) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	x := protowire.DecodeZigZag(v)
	if x > math.MaxInt32 || x < math.MinInt32 {
		return 0, fmt.Errorf("integer %d out of range", x)
	}
	*dst = int(x)
	return n, nil
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}
