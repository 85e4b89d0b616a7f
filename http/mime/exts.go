package mime

var Extension = map[string]MIME{
	".css":  CSS,
	".gif":  GIF,
	".htm":  HTML,
	".html": HTML,
	".jpeg": JPEG,
	".jpg":  JPEG,
	".js":   JS,
	".json": JSON,
	".pdf":  PDF,
	".png":  PNG,
	".svg":  SVG,
	".txt":  Plain,
	".wasm": WASM,
	".webp": WEBP,
	".xml":  XML,
	".gz":   GZIP,
	".zip":  ZIP,
	".ico":  ICO,
	".mp4":  MP4,
	".mp3":  MPEG,
}

type Charset = string

const UTF8 Charset = "utf-8"

// DefaultCharset defines charsets, used by default for MIMEs unless explicitly set.
var DefaultCharset = map[MIME]Charset{
	CSS:   UTF8,
	HTML:  UTF8,
	Plain: UTF8,
	JS:    UTF8,
	XML:   UTF8,
}
