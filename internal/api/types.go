package api

import (
	"fmt"
	"io"

	"sumarte/internal/core"
)

// TransactionQuery selects transactions. Zero fields are not sent.
type TransactionQuery struct {
	ProjectID int64
	Status    core.TransactionStatus
}

// EvidenceUpload is a file to attach to a project.
type EvidenceUpload struct {
	ProjectID int64
	Name      string
	Filename  string
	Size      int64
	Content   io.Reader
}

// OrganizationSignup creates an organization and its first admin.
type OrganizationSignup struct {
	Name          string
	RUT           string
	AdminUsername string
	AdminEmail    string
	AdminPassword string
	FirstName     string
	LastName      string
}

// InvitationAcceptance completes an invitation by creating the user.
type InvitationAcceptance struct {
	Token     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// ReportKind selects one of the generated reports.
type ReportKind string

const (
	ReportStatusPDF   ReportKind = "estado-pdf"
	ReportStatusExcel ReportKind = "estado-excel"
	ReportOfficial    ReportKind = "rendicion-oficial"
)

// ReportKinds lists the downloadable reports in display order.
var ReportKinds = []ReportKind{ReportStatusPDF, ReportStatusExcel, ReportOfficial}

func (k ReportKind) Valid() bool {
	switch k {
	case ReportStatusPDF, ReportStatusExcel, ReportOfficial:
		return true
	}
	return false
}

// Extension is the file extension used when the server names no file.
func (k ReportKind) Extension() string {
	if k == ReportStatusExcel {
		return "xlsx"
	}
	return "pdf"
}

func (k ReportKind) Label() string {
	switch k {
	case ReportStatusPDF:
		return "Estado del proyecto (PDF)"
	case ReportStatusExcel:
		return "Estado del proyecto (Excel)"
	case ReportOfficial:
		return "Rendición oficial"
	}
	return string(k)
}

// DefaultReportFilename is "reporte-{id}-{kind}.{ext}".
func DefaultReportFilename(projectID int64, kind ReportKind) string {
	return fmt.Sprintf("reporte-%d-%s.%s", projectID, kind, kind.Extension())
}

// Report is a downloaded binary report.
type Report struct {
	Filename    string
	ContentType string
	Body        []byte
}
