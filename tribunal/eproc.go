package tribunal

import "net/url"

// eproc degrees live under separate path roots (/eproc1g, /eproc2g), so
// every path builder routes on the instancia.
func eprocRoot(instancia int) string {
	if instancia == 2 {
		return "/eproc2g"
	}
	return "/eproc1g"
}

func newEprocClient(cfg Config) Client {
	return newBase(cfg, profile{
		system: SystemEproc,
		loginPath: func(instancia int) string {
			return eprocRoot(instancia) + "/externo_controlador.php?acao=principal"
		},
		consultaPath: func(numero string) string {
			return eprocRoot(cfg.Instancia) +
				"/externo_controlador.php?acao=processo_consultar&num_processo=" + url.QueryEscape(numero)
		},
		docsPath: func(numero string) string {
			return eprocRoot(cfg.Instancia) +
				"/externo_controlador.php?acao=processo_selecionar&num_processo=" + url.QueryEscape(numero) + "#documentos"
		},
		movsPath: func(numero string) string {
			return eprocRoot(cfg.Instancia) +
				"/externo_controlador.php?acao=processo_selecionar&num_processo=" + url.QueryEscape(numero) + "#eventos"
		},
		peticaoPath: func(numero string) string {
			return eprocRoot(cfg.Instancia) +
				"/controlador.php?acao=peticionamento_processual&num_processo=" + url.QueryEscape(numero)
		},
		sel: selectors{
			loginUser:   "#txtUsuario",
			loginPass:   "#pwdSenha",
			loginSubmit: "#sbmEntrar",

			certLoginButton: "#lnkEntrarCertificado",
			certFileInput:   "#fleCertificado",
			certPassInput:   "#pwdCertificado",
			certSubmit:      "#sbmEntrarCertificado",

			captchaImage: "#imgCaptcha",
			captchaInput: "#txtInfraCaptcha",

			loginSuccess: "#divInfraBarraSistema",
			loginError:   "#divInfraExcecao",
			logout:       "#lnkInfraSairSistema",

			procClasse:   "#txtClasse",
			procAssunto:  "#txtAssunto",
			procOrgao:    "#txtOrgaoJulgador",
			procSituacao: "#txtSituacao",
			procAutuacao: "#txtAutuacao",
			partesTable:  "#tblPartesERepresentantes",
			docsTable:    "#tblDocumentos",
			movsTable:    "#tblEventos",

			novaPeticao:      "#btnNovaPeticao",
			peticaoTipo:      "#selTipoPeticao",
			arquivoInput:     "#fleDocumento",
			arquivoTipo:      "#selTipoDocumento",
			adicionarArquivo: "#btnAdicionarDocumento",
			assinarEnviar:    "#sbmAssinarEnviar",

			signSuccess: "#divRecibo",
			signError:   "#divInfraExcecao",

			protocoloElement: "#txtNumProtocolo",
			successBanner:    "#divInfraAvisoSucesso",
		},
	})
}
