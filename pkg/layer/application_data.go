package layer

// ApplicationData carries opaque application bytes.
type ApplicationData struct {
	Data []byte
}

func (a *ApplicationData) Marshal() ([]byte, error) {
	return append([]byte{}, a.Data...), nil
}

func (a *ApplicationData) Unmarshal(data []byte) error {
	a.Data = append([]byte{}, data...)
	return nil
}

func (a *ApplicationData) DTLSType() DTLSType {
	return DTLSTypeApplicationData
}
