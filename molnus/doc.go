// Package molnus provides a client for the Molnus wildlife-camera cloud API.
//
// The client logs in with an email and password, keeps the returned bearer
// token in memory and hides its lifecycle from callers.
//
// # Usage
//
//	logger := zerolog.New(os.Stdout)
//	client, err := molnus.NewClient(
//		molnus.DefaultBaseURL,
//		"me@example.com",
//		"secret",
//		logger,
//		molnus.WithHTTPClient(shared),
//		molnus.WithTokenTTL(25*time.Minute),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	images, err := client.GetImages(ctx, molnus.ImageQuery{CameraID: "1234", Limit: 1})
//
// # Tokens
//
// Molnus does not say how long a token lives. The client treats a token as
// expired once it is older than the soft TTL and logs in again before the
// next request. A 401 from the images endpoint discards the token, forces one
// login and retries the request once.
//
// # Error Handling
//
//   - AuthError: login failed or the response lacked a token
//   - HTTPError: non-2xx response, with IsUnauthorized/IsNotFound helpers
//   - FormatError: the images endpoint returned neither a list nor {"images": [...]}
package molnus
