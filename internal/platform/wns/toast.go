// Package wns delivers toast notifications through the Windows Push Notification
// Services.
package wns

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

const provider = "WNS"

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>`

// Toast templates, picked by which optional fields are present.
const (
	TemplateText           = "ToastText01"
	TemplateTextTitle      = "ToastText02"
	TemplateImageText      = "ToastImageAndText01"
	TemplateImageTextTitle = "ToastImageAndText02"
)

type toast struct {
	XMLName xml.Name `xml:"toast"`
	Visual  visual   `xml:"visual"`
}

type visual struct {
	Binding binding `xml:"binding"`
}

type binding struct {
	Template string      `xml:"template,attr"`
	Image    *toastImage `xml:"image,omitempty"`
	Texts    []toastText `xml:"text"`
}

type toastImage struct {
	ID  int    `xml:"id,attr"`
	Src string `xml:"src,attr"`
	Alt string `xml:"alt,attr"`
}

type toastText struct {
	ID    int    `xml:"id,attr"`
	Value string `xml:",chardata"`
}

// BuildToast renders message as toast XML. fields may carry "title" and "image"; text
// 1 is always the message and text 2 the title.
func BuildToast(message string, fields map[string]any) (string, error) {
	title := cast.ToString(fields["title"])
	image := cast.ToString(fields["image"])

	b := binding{Texts: []toastText{{ID: 1, Value: strings.TrimSpace(message)}}}
	if title != "" {
		b.Texts = append(b.Texts, toastText{ID: 2, Value: title})
	}
	if image != "" {
		b.Image = &toastImage{ID: 1, Src: image, Alt: image}
	}

	switch {
	case image != "" && title != "":
		b.Template = TemplateImageTextTitle
	case image != "":
		b.Template = TemplateImageText
	case title != "":
		b.Template = TemplateTextTitle
	default:
		b.Template = TemplateText
	}

	out, err := xml.Marshal(toast{Visual: visual{Binding: b}})
	if err != nil {
		return "", fmt.Errorf("encoding toast: %w", err)
	}
	return xmlHeader + string(out), nil
}
