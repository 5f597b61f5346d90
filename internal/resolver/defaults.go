package resolver

// DefaultRequirements is the library set the BomberCat firmware family
// builds against.
func DefaultRequirements() []Requirement {
	alternates := map[string][]string{
		"SerialCommand":         {"Arduino-SerialCommand", "SerialCommand-ng"},
		"NDEF Library":          {"NDEF", "NDEF-1", "Seeed_Arduino_NFC_NDEF"},
		"ElectronicCats-PN7150": {"ElectronicCats PN7150", "Electronic Cats PN7150", "PN7150"},
	}
	names := []string{
		"WiFiManager",
		"PubSubClient",
		"ArduinoJson",

		"Adafruit PN532",
		"ElectronicCats-PN7150",
		"NDEF Library",

		"WiFiNINA",
		"SerialCommand",

		"Servo",
		"FastLED",
		"Adafruit NeoPixel",

		"Keyboard",
		"Mouse",
		"SD",
		"SPI",
		"Wire",
	}
	reqs := make([]Requirement, 0, len(names))
	for _, n := range names {
		reqs = append(reqs, Requirement{Name: n, Alternates: alternates[n]})
	}
	return reqs
}
