package memory

import (
	"time"

	"sumarte/internal/core"
)

// Demo credentials created by NewDemo.
const (
	DemoOrgRUT       = "12345678-5"
	DemoAdminUser    = "admin"
	DemoExecutorUser = "ejecutor"
)

// NewDemo returns a store with one organization, two users and a project
// with a budget, suppliers and transactions in every state. Passwords equal
// the usernames.
func NewDemo(opts ...Option) *Store {
	s := New(opts...)
	today := s.now().UTC().Truncate(24 * time.Hour)

	org := &core.Organization{ID: s.id(), Name: "Fundación Sum Arte", TaxID: DemoOrgRUT, Plan: "basico", SubscriptionStatus: "activo"}
	s.orgs[org.ID] = org

	admin := s.addUserLocked(core.User{Username: DemoAdminUser, Email: "admin@sumarte.cl", FirstName: "Ana", LastName: "Soto", OrganizationID: org.ID}, DemoAdminUser, true)
	exec := s.addUserLocked(core.User{Username: DemoExecutorUser, Email: "ejecutor@sumarte.cl", OrganizationID: org.ID}, DemoExecutorUser, false)

	p := &core.Project{
		ID:             s.id(),
		Name:           "Festival de Teatro Comunitario",
		StartDate:      today.AddDate(0, -2, 0),
		EndDate:        today.AddDate(0, 4, 0),
		TotalBudget:    core.NewAmount(10000000),
		Status:         core.ProjectActive,
		OrganizationID: org.ID,
	}
	s.projects[p.ID] = p

	member := core.TeamMember{ID: s.id(), UserID: exec.ID, Username: exec.Username, ProjectID: p.ID, RoleID: s.roleID(core.RoleExecutor), Role: core.RoleExecutor}
	s.members[member.ID] = member

	item := func(name string, amount int64) int64 {
		id := s.id()
		s.items[id] = &core.BudgetItem{ID: &id, ProjectID: p.ID, Name: name, AssignedAmount: core.NewAmount(amount)}
		return id
	}
	subitem := func(itemID int64, name string, amount int64) int64 {
		id := s.id()
		s.subitems[id] = &core.Subitem{ID: &id, ItemID: itemID, Name: name, AssignedAmount: core.NewAmount(amount)}
		return id
	}

	fees := item("Honorarios", 4000000)
	production := item("Producción", 3500000)
	lights := subitem(production, "Iluminación", 2000000)
	subitem(production, "Escenografía", 1500000)
	item("Difusión", 1500000)

	s.suppliers = []core.Supplier{
		{ID: s.id(), Name: "Luces del Sur SpA", TaxID: "76086428-5", Email: "ventas@lucesdelsur.cl"},
		{ID: s.id(), Name: "Imprenta Central", TaxID: "96790240-3", Email: "contacto@imprentacentral.cl"},
	}

	tx := func(by *userRecord, typ core.TransactionType, amount int64, doc string, itemID, subID *int64, supplier int64, daysAgo int) *core.Transaction {
		t := &core.Transaction{
			ID:             s.id(),
			ProjectID:      p.ID,
			ItemID:         itemID,
			SubitemID:      subID,
			SupplierID:     supplier,
			CreatedBy:      by.ID,
			Amount:         core.NewAmount(amount),
			Date:           today.AddDate(0, 0, -daysAgo),
			DocumentNumber: doc,
			DocumentType:   core.DocFacturaElectronica,
			Type:           typ,
			Status:         core.Pending,
			CreatedAt:      s.now(),
			UpdatedAt:      s.now(),
		}
		s.txs[t.ID] = t
		s.log(by, t, core.AuditCreation)
		return t
	}

	approved := tx(exec, core.Expense, 850000, "F-1001", &production, &lights, s.suppliers[0].ID, 20)
	approved.Status = core.Approved
	s.applyExecuted(approved, 1)
	s.log(admin, approved, core.AuditApproval)

	tx(exec, core.Expense, 1200000, "BH-88", &fees, nil, s.suppliers[1].ID, 5)

	rejected := tx(exec, core.Expense, 300000, "F-1002", &production, nil, s.suppliers[1].ID, 12)
	rejected.Status = core.Rejected
	s.log(admin, rejected, core.AuditRejection)

	income := tx(admin, core.Income, 2000000, "TR-1", nil, nil, s.suppliers[0].ID, 30)
	income.BankAccount, income.BankOperation = "000123456", "OP-55821"
	income.Status = core.Approved
	s.log(admin, income, core.AuditApproval)

	attach := func(tx *core.Transaction, name, file string) {
		ev := &core.Evidence{ID: s.id(), ProjectID: p.ID, Name: name, FileType: "application/pdf", URL: "/media/evidencias/" + file, Version: 1, UploadedAt: s.now(), UploadedBy: exec.Username}
		s.evidence[ev.ID] = ev
		link := core.EvidenceLink{ID: s.id(), TransactionID: tx.ID, EvidenceID: ev.ID}
		s.links[link.ID] = link
	}
	attach(approved, "Factura F-1001", "f-1001.pdf")
	attach(income, "Comprobante transferencia", "tr-1.pdf")

	return s
}
