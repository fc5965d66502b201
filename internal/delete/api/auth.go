package api

import "encoding/base64"

// BasicAuthHeader builds the value of the Authorization header used for every delete call of a run.
func BasicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
