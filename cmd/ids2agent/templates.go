package main

import (
	"embed"
	"os"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

func snifferTemplate(override string) (string, error) {
	return loadTemplate(override, "templates/sniffer.yaml.tmpl")
}

func shipperTemplate(override string) (string, error) {
	return loadTemplate(override, "templates/shipper.yaml.tmpl")
}

func loadTemplate(overridePath, embeddedPath string) (string, error) {
	if overridePath != "" {
		body, err := os.ReadFile(overridePath)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
	body, err := defaultTemplates.ReadFile(embeddedPath)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
