package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

// blockCommentRe matches serialized block delimiter comments:
// <!-- wp:core/image {"id":7} -->, <!-- /wp:image -->, <!-- wp:spacer /-->
var blockCommentRe = regexp.MustCompile(`(?s)<!--\s*(/)?wp:([a-z][a-z0-9\-]*(?:/[a-z][a-z0-9\-]*)?)\s*(\{.*?\})?\s*(/)?-->`)

// block is one node of the parsed block tree
type block struct {
	name     string // namespace stripped, "image" not "core/image"
	attrs    map[string]interface{}
	children []*block
}

// imageBlockTypes is the fixed set of block types that carry image data
// directly in their attributes
var imageBlockTypes = map[string]bool{
	"image":      true,
	"gallery":    true,
	"cover":      true,
	"media-text": true,
}

// BlockExtractor parses the serialized block tree embedded in content and
// extracts resource-id or literal-URL attributes from the known image block
// types, recursing into nested blocks
type BlockExtractor struct {
	media    content.MediaLibrary
	maxDepth int
	log      *logrus.Entry
}

// NewBlockExtractor creates the block-tree extractor
func NewBlockExtractor(media content.MediaLibrary, maxDepth int, log *logrus.Entry) *BlockExtractor {
	return &BlockExtractor{media: media, maxDepth: maxDepth, log: log}
}

// Name implements the Extractor interface
func (e *BlockExtractor) Name() string { return "blocks" }

// Supports implements the Extractor interface
func (e *BlockExtractor) Supports(item *content.Item) bool {
	return strings.Contains(item.Content, "<!-- wp:")
}

// Extract implements the Extractor interface
func (e *BlockExtractor) Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error) {
	roots := parseBlocks(item.Content)

	var refs []models.ImageReference
	if err := e.walkBlocks(ctx, roots, 0, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (e *BlockExtractor) walkBlocks(ctx context.Context, blocks []*block, depth int, out *[]models.ImageReference) error {
	if depth > e.maxDepth {
		return nil
	}
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if imageBlockTypes[b.name] {
			found, err := e.refsFromBlock(ctx, b)
			if err != nil {
				return err
			}
			*out = append(*out, found...)
		}
		if err := e.walkBlocks(ctx, b.children, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// refsFromBlock reads the image attributes of one recognized block:
// a direct resource id ("id", "mediaId", gallery "ids") or a literal URL
// attribute ("url", "mediaUrl")
func (e *BlockExtractor) refsFromBlock(ctx context.Context, b *block) ([]models.ImageReference, error) {
	tag := "block_" + b.name
	scanner := &fieldScanner{media: e.media, context: models.ContextContent, sourceTag: tag}

	var refs []models.ImageReference

	addID := func(raw interface{}) error {
		id, ok := raw.(float64)
		if !ok || id <= 0 || float64(int64(id)) != id {
			return nil
		}
		ref, found, err := scanner.refFromResourceID(ctx, int64(id))
		if err != nil {
			return err
		}
		if found {
			refs = append(refs, ref)
		}
		return nil
	}

	if err := addID(b.attrs["id"]); err != nil {
		return nil, err
	}
	if err := addID(b.attrs["mediaId"]); err != nil {
		return nil, err
	}
	if ids, ok := b.attrs["ids"].([]interface{}); ok {
		for _, raw := range ids {
			if err := addID(raw); err != nil {
				return nil, err
			}
		}
	}

	for _, attr := range []string{"url", "mediaUrl"} {
		if rawURL, ok := b.attrs[attr].(string); ok && parse.IsImageURL(rawURL) {
			refs = append(refs, models.ImageReference{
				URL:       rawURL,
				Context:   models.ContextContent,
				SourceTag: tag,
			})
		}
	}

	return refs, nil
}

// parseBlocks builds the block tree from serialized delimiter comments.
// Unbalanced close comments are ignored; an unclosed block simply ends at the
// end of input. Malformed attribute JSON degrades to an attribute-less block.
func parseBlocks(markup string) []*block {
	var roots []*block
	var stack []*block

	for _, m := range blockCommentRe.FindAllStringSubmatch(markup, -1) {
		closing := m[1] == "/"
		name := m[2]
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			name = name[idx+1:] // Strip the namespace
		}

		if closing {
			if len(stack) > 0 && stack[len(stack)-1].name == name {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		b := &block{name: name}
		if m[3] != "" {
			if err := json.Unmarshal([]byte(m[3]), &b.attrs); err != nil {
				b.attrs = nil
			}
		}

		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, b)
		} else {
			roots = append(roots, b)
		}

		selfClosing := m[4] == "/"
		if !selfClosing {
			stack = append(stack, b)
		}
	}

	return roots
}
