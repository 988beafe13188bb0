package wifi

import (
	"os"

	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// Credentials name the network to join and its secret.
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// LoadCredentials reads a JSON5 secrets file of the form
//
//	{ssid: "Annoying Saxophone", password: "..."}
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "failed to read secrets")
	}
	return ParseCredentials(data)
}

func ParseCredentials(data []byte) (Credentials, error) {
	var c Credentials
	if err := json5.Unmarshal(data, &c); err != nil {
		return Credentials{}, errors.Wrap(err, "failed to parse secrets")
	}
	if c.SSID == "" {
		return Credentials{}, errors.New("secrets: ssid is empty")
	}
	return c, nil
}
