package tribunal

import "net/url"

func newPJeClient(cfg Config) Client {
	return newBase(cfg, profile{
		system: SystemPJe,
		loginPath: func(int) string {
			return "/pje/login.seam"
		},
		consultaPath: func(numero string) string {
			return "/pje/Processo/ConsultaProcesso/Detalhe/listProcessoCompletoAdvogado.seam?numeroProcesso=" +
				url.QueryEscape(numero)
		},
		docsPath: func(numero string) string {
			return "/pje/Processo/ConsultaProcesso/Detalhe/listProcessoCompletoAdvogado.seam?numeroProcesso=" +
				url.QueryEscape(numero) + "&aba=documentos"
		},
		movsPath: func(numero string) string {
			return "/pje/Processo/ConsultaProcesso/Detalhe/listProcessoCompletoAdvogado.seam?numeroProcesso=" +
				url.QueryEscape(numero) + "&aba=movimentacoes"
		},
		peticaoPath: func(numero string) string {
			return "/pje/Processo/ConsultaProcesso/Detalhe/listProcessoCompletoAdvogado.seam?numeroProcesso=" +
				url.QueryEscape(numero) + "&aba=peticionar"
		},
		sel: selectors{
			loginUser:   "#username",
			loginPass:   "#password",
			loginSubmit: "#btnEntrar",

			certLoginButton: "#btnSsoPdpj",
			certFileInput:   "#certificadoArquivo",
			certPassInput:   "#certificadoSenha",
			certSubmit:      "#btnCertificado",

			loginSuccess: "#barraSuperiorPrincipal",
			loginError:   ".loginErro",
			logout:       "#btnSair",

			procClasse:   "#classeProcesso",
			procAssunto:  "#assuntoProcesso",
			procOrgao:    "#orgaoJulgadorProcesso",
			procSituacao: "#situacaoProcesso",
			procAutuacao: "#dataAutuacaoProcesso",
			partesTable:  "#poloAtivo, #poloPassivo",
			docsTable:    "#tabView\\:processoDocumentoGridTab table",
			movsTable:    "#tabView\\:processoEventoPanel table",

			novaPeticao:      "#botaoPeticionar",
			peticaoTipo:      "#tipoPeticao",
			arquivoInput:     "input[type=file].documentoUpload",
			arquivoTipo:      "#tipoDocumento",
			adicionarArquivo: "#btnAdicionarDocumento",
			assinarEnviar:    "#btnAssinarEnviar",

			signSuccess: "#protocoloPanel",
			signError:   ".rich-messages-label",

			protocoloElement: "#numeroProtocolo",
			successBanner:    ".mensagemSucesso",
		},
	})
}
