package models

// Role, oturum açmış kullanıcının bu katman açısından tek önemli
// özelliği: müşteri mi operatör mü?
//
// Relevance kuralı rolün TERSİNE bakar — müşteri için operatör
// mesajları "qualifying" sayılır, operatör için müşteri mesajları.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// WantsOperatorAuthored, bu roldeki bir kullanıcı için qualifying
// event'lerin operatör-yazımlı olup olmadığını döner.
func (r Role) WantsOperatorAuthored() bool {
	return r == RoleCustomer
}
