package bus

import "fmt"

// typeNameOf renders the dynamic type of m as a stable dispatch key.
func typeNameOf(m Message) string {
	return fmt.Sprintf("%T", m)
}
