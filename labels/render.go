package labels

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"image/png"
	"io"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/qr"
)

const (
	barcodeWidth  = 260
	barcodeHeight = 70
	qrSize        = 120
)

// BarcodePNG renders code as a Code 128 barcode.
func BarcodePNG(code Code, width, height int) ([]byte, error) {
	bc, err := code128.Encode(string(code))
	if err != nil {
		return nil, fmt.Errorf("encode barcode %s: %w", code, err)
	}
	return scalePNG(bc, width, height)
}

// QRPNG renders code as a square QR code.
func QRPNG(code Code, size int) ([]byte, error) {
	bc, err := qr.Encode(string(code), qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr %s: %w", code, err)
	}
	return scalePNG(bc, size, size)
}

func scalePNG(bc barcode.Barcode, width, height int) ([]byte, error) {
	scaled, err := barcode.Scale(bc, width, height)
	if err != nil {
		return nil, fmt.Errorf("scale %s: %w", bc.Metadata().CodeKind, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dataURI(b []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(b))
}

type sheetLabel struct {
	Label
	Barcode template.URL
	QR      template.URL
}

type sheetData struct {
	Title  string
	Scope  Scope
	Labels []sheetLabel
}

var sheetTemplate = template.Must(template.New("sheet").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; }
.sheet { display: grid; grid-template-columns: repeat(2, 1fr); gap: 8mm; }
.label { border: 1px dashed #999; padding: 4mm; text-align: center; }
.label .code { font-size: 18pt; font-weight: bold; letter-spacing: 2px; }
@media print {
  .label { border: none; }
  .print-hidden { visibility: hidden; }
}
</style>
</head>
<body>
<div class="sheet" data-scope="{{.Scope}}">
{{- range .Labels}}
<div class="label{{if not .Visible}} print-hidden{{end}}" data-index="{{.Index}}">
<img class="barcode" src="{{.Barcode}}" alt="{{.Code}}">
<img class="qr" src="{{.QR}}" alt="{{.Code}}">
<div class="code">{{.Code}}</div>
</div>
{{- end}}
</div>
</body>
</html>
`))

// RenderSheet writes labels as a printable HTML page. Labels outside the
// scope keep their place on the page and are hidden when printed.
func RenderSheet(w io.Writer, title string, scope Scope, labels []Label) error {
	data := sheetData{Title: title, Scope: scope, Labels: make([]sheetLabel, 0, len(labels))}
	for _, l := range labels {
		bar, err := BarcodePNG(l.Code, barcodeWidth, barcodeHeight)
		if err != nil {
			return err
		}
		q, err := QRPNG(l.Code, qrSize)
		if err != nil {
			return err
		}
		data.Labels = append(data.Labels, sheetLabel{Label: l, Barcode: dataURI(bar), QR: dataURI(q)})
	}
	return sheetTemplate.Execute(w, data)
}
