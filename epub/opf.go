package epub

import (
	"fmt"
	"path"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"epr/common"
)

// parsePackage locates the package document through META-INF/container.xml
// and fills metadata, manifest and spine.
func (b *Book) parsePackage() error {
	opfPath, err := b.rootfilePath()
	if err != nil {
		return err
	}
	b.rootDir = path.Dir(opfPath)
	if b.rootDir == "." {
		b.rootDir = ""
	}

	data, ok := b.entries[opfPath]
	if !ok {
		return fmt.Errorf("container is missing package document %q", opfPath)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("unable to parse package document: %w", err)
	}
	pkg := doc.FindElement("//package")
	if pkg == nil {
		return fmt.Errorf("package document has no package element")
	}

	b.parseMetadata(pkg)
	if err := b.parseManifest(pkg); err != nil {
		return err
	}
	if err := b.parseSpine(pkg); err != nil {
		return err
	}
	return nil
}

func (b *Book) rootfilePath() (string, error) {
	data, ok := b.entries[containerPath]
	if !ok {
		return "", fmt.Errorf("not an OCF container: %s is missing", containerPath)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", fmt.Errorf("unable to parse %s: %w", containerPath, err)
	}
	for _, rf := range doc.FindElements("//rootfile") {
		full := rf.SelectAttrValue("full-path", "")
		media := rf.SelectAttrValue("media-type", "")
		if full != "" && (media == "" || media == "application/oebps-package+xml") {
			return full, nil
		}
	}
	return "", fmt.Errorf("%s declares no usable rootfile", containerPath)
}

func (b *Book) parseMetadata(pkg *etree.Element) {
	md := pkg.SelectElement("metadata")
	if md == nil {
		return
	}
	for _, el := range md.ChildElements() {
		switch el.Tag {
		case "title":
			if b.Meta.Title == "" {
				b.Meta.Title = strings.TrimSpace(el.Text())
			}
		case "creator":
			if v := strings.TrimSpace(el.Text()); v != "" {
				b.Meta.Creators = append(b.Meta.Creators, v)
			}
		case "language":
			if b.Meta.Language == "" {
				b.Meta.Language = strings.TrimSpace(el.Text())
			}
		case "identifier":
			if b.Meta.Identifier == "" {
				b.Meta.Identifier = strings.TrimSpace(el.Text())
			}
		case "meta":
			// EPUB2 style cover reference
			if el.SelectAttrValue("name", "") == "cover" {
				b.coverID = el.SelectAttrValue("content", "")
			}
		}
	}
}

func (b *Book) parseManifest(pkg *etree.Element) error {
	mf := pkg.SelectElement("manifest")
	if mf == nil {
		return fmt.Errorf("package document has no manifest")
	}
	for _, el := range mf.SelectElements("item") {
		item := ManifestItem{
			ID:         el.SelectAttrValue("id", ""),
			Href:       b.resolveHref(el.SelectAttrValue("href", "")),
			MediaType:  el.SelectAttrValue("media-type", ""),
			Properties: el.SelectAttrValue("properties", ""),
		}
		if item.ID == "" || item.Href == "" {
			continue
		}
		b.Manifest[item.ID] = item
		if strings.Contains(item.Properties, "cover-image") {
			b.coverID = item.ID
		}
	}
	if len(b.Manifest) == 0 {
		return fmt.Errorf("package manifest is empty")
	}
	return nil
}

func (b *Book) parseSpine(pkg *etree.Element) error {
	sp := pkg.SelectElement("spine")
	if sp == nil {
		return fmt.Errorf("package document has no spine")
	}
	b.Direction = common.ParsePageDirection(sp.SelectAttrValue("page-progression-direction", ""))
	for _, el := range sp.SelectElements("itemref") {
		idref := el.SelectAttrValue("idref", "")
		item, ok := b.Manifest[idref]
		if !ok {
			b.log.Warn("Spine references unknown manifest item, skipping", zap.String("idref", idref))
			continue
		}
		if strings.EqualFold(el.SelectAttrValue("linear", "yes"), "no") {
			continue
		}
		b.Spine = append(b.Spine, SpineItem{ID: idref, Href: item.Href})
	}
	if len(b.Spine) == 0 {
		return fmt.Errorf("package spine is empty")
	}
	return nil
}

// resolveHref joins a manifest href with the package document directory.
func (b *Book) resolveHref(href string) string {
	if href == "" {
		return ""
	}
	href, _, _ = strings.Cut(href, "#")
	if b.rootDir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(b.rootDir, href))
}

// Cover returns the cover image resource, if the publication declares one.
func (b *Book) Cover() (data []byte, mediaType string, ok bool) {
	item, found := b.Manifest[b.coverID]
	if !found {
		return nil, "", false
	}
	data, found = b.entries[item.Href]
	if !found {
		return nil, "", false
	}
	return data, item.MediaType, true
}
