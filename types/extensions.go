package types

// ResourceServerExtension decorates the PaymentRequired a server issues.
// The returned declaration is placed under extensions[Key()].
type ResourceServerExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}
