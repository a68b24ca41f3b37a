package coap

import (
	"net/url"
	"strconv"
	"strings"

	gocoap "github.com/dustin/go-coap"
	"github.com/marmos91/coapfs/internal/logger"
)

// ContentFormatLinkFormat is application/link-format (RFC 6690).
const ContentFormatLinkFormat uint16 = 40

// linkFormatOverhead leaves room for the header, token and options.
const linkFormatOverhead = 64

// LinkFormat renders the CoRE link-format listing of every registered
// resource, in lexical path order. Links that would push the listing past
// limit bytes are left out; limit <= 0 means no limit.
func (e *Engine) LinkFormat(limit int) []byte {
	var b strings.Builder

	for _, path := range e.registry.Paths() {
		entry, _ := e.registry.Lookup(path)

		link := "</" + escapePath(path) + ">;ct=" + strconv.FormatUint(uint64(entry.ContentFormat), 10)
		if e.opts.Observe {
			link += ";obs"
		}

		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if limit > 0 && b.Len()+sep+len(link) > limit {
			logger.Warn("Discovery listing truncated at %d bytes (%d resources)", b.Len(), e.registry.Len())
			break
		}
		if sep == 1 {
			b.WriteByte(',')
		}
		b.WriteString(link)
	}

	return []byte(b.String())
}

func (e *Engine) discovery(resp *gocoap.Message) {
	limit := e.ep.MaxDatagramSize() - linkFormatOverhead
	if limit <= 0 {
		limit = 1
	}
	resp.Code = gocoap.Content
	resp.Payload = e.LinkFormat(limit)
	resp.SetOption(gocoap.ContentFormat, gocoap.MediaType(ContentFormatLinkFormat))
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
