package tribunal

import "net/url"

// esaj second-degree consultas live under /cposg; everything else is
// shared between degrees.
func esajConsultaRoot(instancia int) string {
	if instancia == 2 {
		return "/cposg"
	}
	return "/cpopg"
}

func newESAJClient(cfg Config) Client {
	return newBase(cfg, profile{
		system: SystemESAJ,
		loginPath: func(int) string {
			return "/sajcas/login"
		},
		consultaPath: func(numero string) string {
			return esajConsultaRoot(cfg.Instancia) + "/show.do?processo.numero=" + url.QueryEscape(numero)
		},
		docsPath: func(numero string) string {
			return esajConsultaRoot(cfg.Instancia) + "/show.do?processo.numero=" + url.QueryEscape(numero) + "#pastaDigital"
		},
		movsPath: func(numero string) string {
			return esajConsultaRoot(cfg.Instancia) + "/show.do?processo.numero=" + url.QueryEscape(numero) + "#movimentacoes"
		},
		peticaoPath: func(numero string) string {
			return "/petpg/peticionarIntermediaria.do?numeroProcesso=" + url.QueryEscape(numero)
		},
		sel: selectors{
			loginUser:   "#usernameForm",
			loginPass:   "#passwordForm",
			loginSubmit: "#pbEntrar",

			certLoginButton: "#linkAbaCertificado",
			certFileInput:   "#arquivoCertificado",
			certPassInput:   "#senhaCertificado",
			certSubmit:      "#pbEntrarCertificado",

			loginSuccess: "#esajConteudoHome",
			loginError:   "#mensagemRetorno",
			logout:       "#linkSair",

			procClasse:   "#classeProcesso",
			procAssunto:  "#assuntoProcesso",
			procOrgao:    "#varaProcesso",
			procSituacao: "#labelSituacaoProcesso",
			procAutuacao: "#dataHoraDistribuicaoProcesso",
			partesTable:  "#tableTodasPartes",
			docsTable:    "#tabelaDocumentos",
			movsTable:    "#tabelaTodasMovimentacoes",

			novaPeticao:      "#botaoNovaPeticao",
			peticaoTipo:      "#categoriaPeticao",
			arquivoInput:     "#botaoAdicionarDocumento input[type=file]",
			arquivoTipo:      "#tipoDocumentoDigital",
			adicionarArquivo: "#botaoIncluirDocumento",
			assinarEnviar:    "#botaoProtocolar",

			signSuccess: "#divRecibo",
			signError:   "#mensagemRetorno",

			protocoloElement: "#numeroProtocolo",
			successBanner:    ".mensagemSucesso",
		},
	})
}
