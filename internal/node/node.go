package node

import "github.com/gin-gonic/gin"

// Node is a process that exposes an HTTP surface, such as the responder.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// Describe formats a node as kind/id for logs.
func Describe(n Node) string {
	return n.Kind() + "/" + n.NodeID()
}
